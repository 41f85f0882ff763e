package yubikit

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/seagrayinc/yubikit/pkg/management"
	"github.com/seagrayinc/yubikit/pkg/otp"
	"github.com/seagrayinc/yubikit/pkg/smartcard"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

var otpAid = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x20, 0x01, 0x01}

// Applets probed over CCID when the management application is unavailable,
// and the capability each one implies.
var ccidApplets = []struct {
	aid        []byte
	capability management.Capability
}{
	{[]byte{0xd2, 0x76, 0x00, 0x01, 0x24, 0x01}, management.CapabilityOPENPGP},
	{[]byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x21, 0x01}, management.CapabilityOATH},
	{[]byte{0xa0, 0x00, 0x00, 0x03, 0x08}, management.CapabilityPIV},
	{[]byte{0xa0, 0x00, 0x00, 0x06, 0x47, 0x2f, 0x00, 0x01}, management.CapabilityU2F},
	{[]byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x10, 0x02}, management.CapabilityU2F}, // old U2F AID
}

const baseNeoApps = management.CapabilityOTP | management.CapabilityOATH |
	management.CapabilityPIV | management.CapabilityOPENPGP

// ReadInfo determines the device information over an already-open connection.
// Devices whose firmware predates the management application get synthesized
// info based on the key type and probing of the available applications.
func ReadInfo(ctx context.Context, conn yubikey.Connection, pid yubikey.UsbPid) (*management.DeviceInfo, error) {
	keyType := pid.Type()
	interfaces := pid.Interfaces()

	var info *management.DeviceInfo
	var err error
	switch c := conn.(type) {
	case yubikey.SmartCardConnection:
		info, err = readInfoSmartCard(ctx, c, interfaces)
	case yubikey.OtpConnection:
		info, err = readInfoOtp(ctx, c, keyType, interfaces)
	case yubikey.FidoConnection:
		info, err = readInfoFido(ctx, c, keyType)
	default:
		return nil, errors.New("unsupported connection type")
	}
	if err != nil {
		return nil, err
	}
	return adjustInfo(info, keyType, interfaces), nil
}

func readInfoSmartCard(ctx context.Context, conn yubikey.SmartCardConnection, interfaces int) (*management.DeviceInfo, error) {
	var version yubikey.Version
	haveVersion := false

	session, err := management.NewSmartCardSession(conn)
	if err == nil {
		version = session.Version()
		haveVersion = true
		info, err := session.GetDeviceInfo(ctx)
		if err == nil {
			return info, nil
		}
		var notSupported *yubikey.NotSupportedError
		if !errors.As(err, &notSupported) {
			var badResp *yubikey.BadResponseError
			var apduErr *smartcard.ApduError
			if !errors.As(err, &badResp) && !errors.As(err, &apduErr) {
				return nil, err
			}
		}
		// No device info support, synthesize below.
	} else if !errors.Is(err, yubikey.ErrApplicationNotAvailable) {
		return nil, err
	}

	protocol := smartcard.NewProtocol(conn)
	var capabilities management.Capability
	var serial uint32

	if statusResp, err := protocol.Select(otpAid); err == nil {
		capabilities |= management.CapabilityOTP
		if !haveVersion {
			version = yubikey.VersionFromBytes(statusResp)
			haveVersion = true
		}
		serial = readSerialOverCcid(protocol)
	} else {
		slog.Debug("couldn't select OTP application, serial unknown")
	}

	if !haveVersion {
		slog.Debug("firmware version unknown, using 3.0.0 as a baseline")
		version = yubikey.Version{Major: 3, Minor: 0, Micro: 0}
	}

	for _, applet := range ccidApplets {
		if _, err := protocol.Select(applet.aid); err == nil {
			capabilities |= applet.capability
		}
	}

	if interfaces&yubikey.UsbInterfaceFIDO != 0 || version.IsAtLeast(3, 3, 0) {
		capabilities |= management.CapabilityU2F
	}

	return &management.DeviceInfo{
		Serial:  serial,
		Version: version,
		Supported: map[yubikey.Transport]management.Capability{
			yubikey.TransportUSB: capabilities,
			yubikey.TransportNFC: capabilities,
		},
	}, nil
}

// readSerialOverCcid reads the device serial through the OTP applet.
func readSerialOverCcid(protocol *smartcard.Protocol) uint32 {
	resp, err := protocol.SendAndReceive(smartcard.Apdu{Ins: 0x01, P1: 0x10})
	if err != nil || len(resp) < 4 {
		slog.Debug("unable to read serial over OTP applet", slog.Any("error", err))
		return 0
	}
	return binary.BigEndian.Uint32(resp[:4])
}

func readInfoOtp(ctx context.Context, conn yubikey.OtpConnection, keyType yubikey.KeyType, interfaces int) (*management.DeviceInfo, error) {
	if session, err := management.NewOtpSession(conn); err == nil {
		if info, err := session.GetDeviceInfo(ctx); err == nil {
			return info, nil
		}
		slog.Debug("unable to get device info over OTP, using fallback")
	}

	otpSession, err := otp.NewSession(conn)
	if err != nil {
		return nil, err
	}
	version := otpSession.Version()
	var serial uint32
	if s, err := otpSession.SerialNumber(ctx); err == nil {
		serial = s
	}

	supported := make(map[yubikey.Transport]management.Capability)
	switch keyType {
	case yubikey.TypeNEO:
		caps := baseNeoApps
		if interfaces&yubikey.UsbInterfaceFIDO != 0 || version.IsAtLeast(3, 0, 0) {
			caps |= management.CapabilityU2F
		}
		supported[yubikey.TransportUSB] = caps
		supported[yubikey.TransportNFC] = caps
	case yubikey.TypeYKP:
		supported[yubikey.TransportUSB] = management.CapabilityOTP | management.CapabilityU2F
	default:
		supported[yubikey.TransportUSB] = management.CapabilityOTP
	}

	return &management.DeviceInfo{
		Serial:    serial,
		Version:   version,
		Supported: supported,
	}, nil
}

func readInfoFido(ctx context.Context, conn yubikey.FidoConnection, keyType yubikey.KeyType) (*management.DeviceInfo, error) {
	session, err := management.NewFidoSession(conn)
	if err != nil {
		return nil, err
	}
	if info, err := session.GetDeviceInfo(ctx); err == nil {
		return info, nil
	}
	slog.Debug("unable to get device info over FIDO, using fallback")

	version := yubikey.Version{Major: 3, Minor: 0, Micro: 0}
	if keyType == yubikey.TypeYKP {
		version = yubikey.Version{Major: 4, Minor: 0, Micro: 0}
	}
	supported := map[yubikey.Transport]management.Capability{
		yubikey.TransportUSB: management.CapabilityU2F,
	}
	if keyType == yubikey.TypeNEO {
		supported[yubikey.TransportUSB] |= baseNeoApps
		supported[yubikey.TransportNFC] = supported[yubikey.TransportUSB]
	}

	return &management.DeviceInfo{
		Version:    version,
		FormFactor: management.FormFactorUsbAKeychain,
		Supported:  supported,
	}, nil
}

// adjustInfo fills in state that older firmware doesn't report and fixes
// known invalid configurations.
func adjustInfo(info *management.DeviceInfo, keyType yubikey.KeyType, interfaces int) *management.DeviceInfo {
	if info.Supported == nil {
		info.Supported = make(map[yubikey.Transport]management.Capability)
	}
	if info.Config.Enabled == nil {
		info.Config.Enabled = make(map[yubikey.Transport]management.Capability)
	}

	// Set USB enabled if missing (pre YubiKey 5).
	if _, ok := info.Config.Enabled[yubikey.TransportUSB]; !ok && info.HasTransport(yubikey.TransportUSB) {
		usbSupported := info.Supported[yubikey.TransportUSB]
		usbEnabled := usbSupported
		if usbSupported == management.CapabilityOTP|management.CapabilityU2F|management.Capability(yubikey.UsbInterfaceCCID) {
			// YubiKey Edge, hide the unusable CCID interface.
			info.Supported[yubikey.TransportUSB] = management.CapabilityOTP | management.CapabilityU2F
		}
		if interfaces&yubikey.UsbInterfaceOTP == 0 {
			usbEnabled &^= management.CapabilityOTP
		}
		if interfaces&yubikey.UsbInterfaceFIDO == 0 {
			usbEnabled &^= management.CapabilityU2F | management.CapabilityFIDO2
		}
		if interfaces&yubikey.UsbInterfaceCCID == 0 {
			usbEnabled &^= management.Capability(yubikey.UsbInterfaceCCID) |
				management.CapabilityOATH | management.CapabilityOPENPGP | management.CapabilityPIV
		}
		info.Config.Enabled[yubikey.TransportUSB] = usbEnabled
	}

	if keyType == yubikey.TypeSKY {
		info.IsSky = true
	}
	if info.Version.IsAtLeast(4, 4, 0) && info.Version.IsLessThan(4, 5, 0) {
		// YK4-based FIPS series
		info.IsFips = true
	}

	// Set NFC enabled if missing (pre YubiKey 5).
	if _, ok := info.Config.Enabled[yubikey.TransportNFC]; !ok && info.HasTransport(yubikey.TransportNFC) {
		info.Config.Enabled[yubikey.TransportNFC] = info.Supported[yubikey.TransportNFC]
	}

	// Form factors known not to have NFC despite what the info says.
	if info.Version.IsAtLeast(4, 0, 0) {
		noNfc := info.FormFactor == management.FormFactorUsbANano ||
			info.FormFactor == management.FormFactorUsbCNano ||
			info.FormFactor == management.FormFactorUsbCLightning ||
			(info.FormFactor == management.FormFactorUsbCKeychain && info.Version.IsLessThan(5, 2, 4))
		if noNfc {
			delete(info.Supported, yubikey.TransportNFC)
			delete(info.Config.Enabled, yubikey.TransportNFC)
		}
	}
	return info
}
