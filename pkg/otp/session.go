package otp

import (
	"context"
	"encoding/binary"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const slotDeviceSerial = 0x10

// Session exposes the small slice of the YubiOTP application the library
// needs: the firmware version from the status block and the device serial.
type Session struct {
	proto   *Protocol
	version yubikey.Version
}

// NewSession opens a session over an OTP connection and reads the status
// block to learn the firmware version.
func NewSession(conn yubikey.OtpConnection) (*Session, error) {
	proto := NewProtocol(conn)
	status, err := proto.ReadStatus()
	if err != nil {
		return nil, err
	}
	return &Session{proto: proto, version: yubikey.VersionFromBytes(status)}, nil
}

// Version returns the firmware version reported by the status block.
func (s *Session) Version() yubikey.Version {
	return s.version
}

// SerialNumber reads the device serial number. Requires firmware 2.2 or later.
func (s *Session) SerialNumber(ctx context.Context) (uint32, error) {
	if err := yubikey.RequireVersion(s.version, 2, 2, 0); err != nil {
		return 0, err
	}
	resp, err := s.proto.SendAndReceive(ctx, slotDeviceSerial, nil)
	if err != nil {
		return 0, err
	}
	if len(resp) < 6 || !CheckCrc(resp[:6]) {
		return 0, yubikey.BadResponse("invalid serial number response")
	}
	return binary.BigEndian.Uint32(resp[:4]), nil
}
