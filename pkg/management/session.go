package management

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seagrayinc/yubikit/internal/tlv"
	"github.com/seagrayinc/yubikit/pkg/fido"
	"github.com/seagrayinc/yubikit/pkg/otp"
	"github.com/seagrayinc/yubikit/pkg/smartcard"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

var (
	aidManagement = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x47, 0x11, 0x17}
	aidOtp        = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x20, 0x01, 0x01}
)

// Smart card instructions.
const (
	insOtpConfig   = 0x01
	insWriteConfig = 0x1c
	insReadConfig  = 0x1d
	insSetMode     = 0x16
	insDeviceReset = 0x1f
	p1DeviceConfig = 0x11
)

// OTP slot commands.
const (
	cmdDeviceConfig     = 0x11
	cmdYk4Capabilities  = 0x13
	cmdYk4SetDeviceInfo = 0x15
)

// backend abstracts the per-transport framing of the management operations.
type backend interface {
	readConfig(ctx context.Context, page byte) ([]byte, error)
	writeConfig(ctx context.Context, config []byte) error
	setMode(ctx context.Context, data []byte) error
	deviceReset(ctx context.Context) error
	close() error
}

// Session is an open management session with a YubiKey. A Session must only
// be used from a single goroutine.
type Session struct {
	backend backend
	version yubikey.Version
}

// NewSession opens a management session over the first supported connection
// type of the device: smart card, then OTP, then FIDO.
func NewSession(device yubikey.Device) (*Session, error) {
	switch {
	case device.SupportsConnection(yubikey.ConnectionSmartCard):
		conn, err := device.OpenConnection(yubikey.ConnectionSmartCard)
		if err != nil {
			return nil, err
		}
		return NewSmartCardSession(conn.(yubikey.SmartCardConnection))
	case device.SupportsConnection(yubikey.ConnectionOTP):
		conn, err := device.OpenConnection(yubikey.ConnectionOTP)
		if err != nil {
			return nil, err
		}
		return NewOtpSession(conn.(yubikey.OtpConnection))
	case device.SupportsConnection(yubikey.ConnectionFIDO):
		conn, err := device.OpenConnection(yubikey.ConnectionFIDO)
		if err != nil {
			return nil, err
		}
		return NewFidoSession(conn.(yubikey.FidoConnection))
	default:
		return nil, fmt.Errorf("device supports no compatible connection type: %w", yubikey.ErrApplicationNotAvailable)
	}
}

// NewSmartCardSession opens a management session over a smart card
// connection. If the management application is not present (NEO-era
// firmware), the OTP application is used instead with its older command
// layout.
func NewSmartCardSession(conn yubikey.SmartCardConnection) (*Session, error) {
	protocol := smartcard.NewProtocol(conn)

	selectResp, err := protocol.Select(aidManagement)
	if err == nil {
		version, err := yubikey.ParseVersion(string(selectResp))
		if err != nil {
			return nil, yubikey.BadResponse("unexpected select response: %v", err)
		}
		b := &smartCardBackend{protocol: protocol, version: version}
		return &Session{backend: b, version: version}, nil
	}
	if !errors.Is(err, yubikey.ErrApplicationNotAvailable) {
		return nil, err
	}

	statusResp, err := protocol.Select(aidOtp)
	if err != nil {
		return nil, err
	}
	version := yubikey.VersionFromBytes(statusResp)
	b := &smartCardBackend{protocol: protocol, version: version, useOtpAid: true}
	return &Session{backend: b, version: version}, nil
}

// NewOtpSession opens a management session over an OTP connection.
func NewOtpSession(conn yubikey.OtpConnection) (*Session, error) {
	protocol := otp.NewProtocol(conn)
	status, err := protocol.ReadStatus()
	if err != nil {
		return nil, err
	}
	version := yubikey.VersionFromBytes(status)
	if version.IsLessThan(3, 0, 0) {
		return nil, fmt.Errorf("management requires YubiKey 3 or later: %w", yubikey.ErrApplicationNotAvailable)
	}
	return &Session{
		backend: &otpBackend{protocol: protocol, conn: conn},
		version: version,
	}, nil
}

// NewFidoSession opens a management session over a FIDO connection.
func NewFidoSession(conn yubikey.FidoConnection) (*Session, error) {
	protocol, err := fido.NewProtocol(conn)
	if err != nil {
		return nil, err
	}
	return &Session{
		backend: &fidoBackend{protocol: protocol, conn: conn},
		version: protocol.Version(),
	}, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.backend.close()
}

// Version returns the firmware version used for feature gating. Reading the
// device info of a pre-release build substitutes the version embedded in its
// version qualifier.
func (s *Session) Version() yubikey.Version {
	return s.version
}

// GetDeviceInfo reads and decodes the device information pages. Requires
// firmware 4.1 or later.
func (s *Session) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	if err := yubikey.RequireVersion(s.version, 4, 1, 0); err != nil {
		return nil, err
	}

	merged := make(map[int][]byte)
	for page := byte(0); ; page++ {
		resp, err := s.backend.readConfig(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 || int(resp[0]) != len(resp)-1 {
			return nil, yubikey.BadResponse("invalid device info length")
		}
		m, err := tlv.DecodeMap(resp[1:])
		if err != nil {
			return nil, yubikey.BadResponse("malformed device info page %d: %v", page, err)
		}

		moreData, ok := m[tagMoreData]
		delete(m, tagMoreData)
		for tag, value := range m {
			merged[tag] = value
		}
		if !ok || len(moreData) != 1 || moreData[0] != 1 {
			break
		}
	}

	info, err := parseInfo(merged, s.version)
	if err != nil {
		return nil, err
	}
	if !info.VersionQualifier.IsFinal() {
		slog.Debug("pre-release firmware, using qualifier version",
			slog.String("qualifier", info.VersionQualifier.String()))
		s.version = info.VersionQualifier.Version
	}
	return info, nil
}

// UpdateDeviceConfig writes a device configuration to a YubiKey 5 or later.
// If reboot is true the YubiKey reboots immediately, applying the changes.
// currentLockCode is required if a configuration lock is set; newLockCode
// sets or, when all-zero, clears the lock.
func (s *Session) UpdateDeviceConfig(ctx context.Context, config DeviceConfig, reboot bool, currentLockCode, newLockCode []byte) error {
	if err := yubikey.RequireVersion(s.version, 5, 0, 0); err != nil {
		return err
	}
	if currentLockCode != nil && len(currentLockCode) != LockCodeSize {
		return fmt.Errorf("lock code must be %d bytes", LockCodeSize)
	}
	if newLockCode != nil && len(newLockCode) != LockCodeSize {
		return fmt.Errorf("lock code must be %d bytes", LockCodeSize)
	}
	data, err := config.Bytes(reboot, currentLockCode, newLockCode)
	if err != nil {
		return err
	}
	return s.backend.writeConfig(ctx, data)
}

// SetMode sets the allowed USB interfaces on a YubiKey NEO or 4. On a
// YubiKey 5 or later the mode is translated into a device configuration
// write. chalrespTimeout is the touch timeout in seconds for
// challenge-response; autoEjectTimeout (in 10s of seconds) applies in
// CCID-only mode.
func (s *Session) SetMode(ctx context.Context, mode yubikey.UsbMode, chalrespTimeout byte, autoEjectTimeout uint16) error {
	if s.version.IsAtLeast(5, 0, 0) {
		var usbEnabled Capability
		interfaces := mode.Interfaces()
		if interfaces&yubikey.UsbInterfaceOTP != 0 {
			usbEnabled |= CapabilityOTP
		}
		if interfaces&yubikey.UsbInterfaceCCID != 0 {
			usbEnabled |= CapabilityOATH | CapabilityPIV | CapabilityOPENPGP
		}
		if interfaces&yubikey.UsbInterfaceFIDO != 0 {
			usbEnabled |= CapabilityU2F | CapabilityFIDO2
		}
		return s.UpdateDeviceConfig(ctx, DeviceConfig{
			Enabled:                  map[yubikey.Transport]Capability{yubikey.TransportUSB: usbEnabled},
			ChallengeResponseTimeout: &chalrespTimeout,
			AutoEjectTimeout:         &autoEjectTimeout,
		}, false, nil, nil)
	}

	if err := yubikey.RequireVersion(s.version, 3, 0, 0); err != nil {
		return err
	}
	data := make([]byte, 4)
	data[0] = byte(mode)
	data[1] = chalrespTimeout
	binary.BigEndian.PutUint16(data[2:], autoEjectTimeout)
	return s.backend.setMode(ctx, data)
}

// DeviceReset performs a global factory reset on devices that support it
// (firmware 5.6 or later, bio multi-protocol edition).
func (s *Session) DeviceReset(ctx context.Context) error {
	if err := yubikey.RequireVersion(s.version, 5, 6, 0); err != nil {
		return err
	}
	return s.backend.deviceReset(ctx)
}

// smartCardBackend speaks to the management application over APDUs. On
// NEO-era firmware the OTP applet stands in, with commands tunneled through
// its INS 0x01 and no paginated reads.
type smartCardBackend struct {
	protocol  *smartcard.Protocol
	version   yubikey.Version
	useOtpAid bool
}

func (b *smartCardBackend) readConfig(_ context.Context, page byte) ([]byte, error) {
	if b.useOtpAid {
		if page > 0 {
			return nil, yubikey.NotSupported("paged device info reads")
		}
		return b.protocol.SendAndReceive(smartcard.Apdu{Ins: insOtpConfig, P1: cmdYk4Capabilities})
	}
	return b.protocol.SendAndReceive(smartcard.Apdu{Ins: insReadConfig, P1: page})
}

func (b *smartCardBackend) writeConfig(_ context.Context, config []byte) error {
	var err error
	if b.useOtpAid {
		_, err = b.protocol.SendAndReceive(smartcard.Apdu{Ins: insOtpConfig, P1: cmdYk4SetDeviceInfo, Data: config})
	} else {
		_, err = b.protocol.SendAndReceive(smartcard.Apdu{Ins: insWriteConfig, Data: config})
	}
	return err
}

func (b *smartCardBackend) setMode(_ context.Context, data []byte) error {
	if b.useOtpAid {
		_, err := b.protocol.SendAndReceive(smartcard.Apdu{Ins: insOtpConfig, P1: cmdDeviceConfig, Data: data})
		return err
	}
	if b.version.IsLessThan(4, 0, 0) {
		// NEO sets the mode via the OTP applet.
		if _, err := b.protocol.Select(aidOtp); err != nil {
			return err
		}
		if _, err := b.protocol.SendAndReceive(smartcard.Apdu{Ins: insOtpConfig, P1: cmdDeviceConfig, Data: data}); err != nil {
			return err
		}
		// Workaround to "de-select" on NEO before re-selecting management.
		if _, err := b.protocol.Connection().Transmit([]byte{0xa4, 0x04, 0x00, 0x08}); err != nil {
			return err
		}
		_, err := b.protocol.Select(aidManagement)
		return err
	}
	_, err := b.protocol.SendAndReceive(smartcard.Apdu{Ins: insSetMode, P1: p1DeviceConfig, Data: data})
	return err
}

func (b *smartCardBackend) deviceReset(_ context.Context) error {
	if b.useOtpAid {
		return yubikey.NotSupported("device reset over the OTP applet")
	}
	_, err := b.protocol.SendAndReceive(smartcard.Apdu{Ins: insDeviceReset})
	return err
}

func (b *smartCardBackend) close() error {
	return b.protocol.Connection().Close()
}

// otpBackend tunnels management commands through OTP slot writes.
type otpBackend struct {
	protocol *otp.Protocol
	conn     yubikey.OtpConnection
}

func (b *otpBackend) readConfig(ctx context.Context, page byte) ([]byte, error) {
	if page > 0 {
		return nil, yubikey.NotSupported("paged device info reads over OTP")
	}
	resp, err := b.protocol.SendAndReceive(ctx, cmdYk4Capabilities, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, yubikey.BadResponse("empty capabilities response")
	}
	size := int(resp[0]) + 1
	if len(resp) < size+2 || !otp.CheckCrc(resp[:size+2]) {
		return nil, yubikey.BadResponse("invalid CRC in capabilities response")
	}
	return resp[:size], nil
}

func (b *otpBackend) writeConfig(ctx context.Context, config []byte) error {
	_, err := b.protocol.SendAndReceive(ctx, cmdYk4SetDeviceInfo, config)
	return err
}

func (b *otpBackend) setMode(ctx context.Context, data []byte) error {
	_, err := b.protocol.SendAndReceive(ctx, cmdDeviceConfig, data)
	return err
}

func (b *otpBackend) deviceReset(context.Context) error {
	return yubikey.NotSupported("device reset over OTP")
}

func (b *otpBackend) close() error {
	return b.conn.Close()
}

// fidoBackend uses the Yubico vendor CTAPHID commands.
type fidoBackend struct {
	protocol *fido.Protocol
	conn     yubikey.FidoConnection
}

func (b *fidoBackend) readConfig(ctx context.Context, page byte) ([]byte, error) {
	return b.protocol.SendAndReceive(ctx, fido.CmdReadConfig, []byte{page})
}

func (b *fidoBackend) writeConfig(ctx context.Context, config []byte) error {
	_, err := b.protocol.SendAndReceive(ctx, fido.CmdWriteConfig, config)
	return err
}

func (b *fidoBackend) setMode(ctx context.Context, data []byte) error {
	_, err := b.protocol.SendAndReceive(ctx, fido.CmdSetMode, data)
	return err
}

func (b *fidoBackend) deviceReset(context.Context) error {
	return yubikey.NotSupported("device reset over FIDO")
}

func (b *fidoBackend) close() error {
	return b.conn.Close()
}
