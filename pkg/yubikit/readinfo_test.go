package yubikit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seagrayinc/yubikit/internal/tlv"
	"github.com/seagrayinc/yubikit/pkg/management"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// scriptedCard replays APDU responses in order.
type scriptedCard struct {
	responses [][]byte
	sent      [][]byte
}

func (c *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	c.sent = append(c.sent, append([]byte(nil), cmd...))
	if len(c.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedCard) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (c *scriptedCard) Close() error                 { return nil }

func ok(payload []byte) []byte {
	return append(payload, 0x90, 0x00)
}

func infoPage(records ...tlv.Tlv) []byte {
	body := tlv.EncodeList(records)
	return append([]byte{byte(len(body))}, body...)
}

func TestReadInfoSmartCard(t *testing.T) {
	card := &scriptedCard{responses: [][]byte{
		ok([]byte("Firmware version 5.4.3")),
		ok(infoPage(
			tlv.Tlv{Tag: 0x05, Value: []byte{5, 4, 3}},                // firmware version
			tlv.Tlv{Tag: 0x02, Value: []byte{0x00, 0x01, 0xe2, 0x40}}, // serial
			tlv.Tlv{Tag: 0x01, Value: []byte{0x02, 0x3f}},             // usb supported
			tlv.Tlv{Tag: 0x03, Value: []byte{0x02, 0x3f}},             // usb enabled
			tlv.Tlv{Tag: 0x04, Value: []byte{0x01}},                   // form factor
		)),
	}}

	info, err := ReadInfo(context.Background(), card, yubikey.PidYk4OtpFidoCcid)
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), info.Serial)
	assert.Equal(t, yubikey.Version{Major: 5, Minor: 4, Micro: 3}, info.Version)
	assert.Equal(t, management.Capability(0x23f), info.SupportedCapabilities(yubikey.TransportUSB))
	assert.False(t, info.HasTransport(yubikey.TransportNFC))
}

func TestReadInfoSmartCardNeoFallback(t *testing.T) {
	status := []byte{3, 4, 9, 0x01, 0x05, 0x00}
	card := &scriptedCard{responses: [][]byte{
		{0x6a, 0x82},                       // no management applet
		ok(status),                         // OTP applet select inside the session
		ok(status),                         // OTP applet select for the probe
		ok([]byte{0x00, 0x01, 0xe2, 0x40}), // serial
		ok(nil),                            // OpenPGP
		{0x6a, 0x82},                       // OATH
		ok(nil),                            // PIV
		{0x6a, 0x82},                       // FIDO
		{0x6a, 0x82},                       // old U2F
	}}

	info, err := ReadInfo(context.Background(), card, yubikey.PidNeoOtpCcid)
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), info.Serial)
	assert.Equal(t, yubikey.Version{Major: 3, Minor: 4, Micro: 9}, info.Version)

	// OTP and the selectable applets, plus U2F since the firmware is 3.3+.
	wantCaps := management.CapabilityOTP | management.CapabilityOPENPGP |
		management.CapabilityPIV | management.CapabilityU2F
	assert.Equal(t, wantCaps, info.SupportedCapabilities(yubikey.TransportUSB))
	assert.Equal(t, wantCaps, info.SupportedCapabilities(yubikey.TransportNFC))

	// The PID has no FIDO interface, so U2F can't be enabled over USB.
	enabled, found := info.EnabledCapabilities(yubikey.TransportUSB)
	require.True(t, found)
	assert.Equal(t, wantCaps&^management.CapabilityU2F, enabled)
}

// scriptedOtp answers every feature report read with the same status report.
type scriptedOtp struct {
	status [6]byte
}

func (c *scriptedOtp) Receive(report []byte) error {
	copy(report[1:7], c.status[:])
	return nil
}

func (c *scriptedOtp) Send([]byte) error            { return nil }
func (c *scriptedOtp) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (c *scriptedOtp) Close() error                 { return nil }

func TestReadInfoOtpLegacyKey(t *testing.T) {
	conn := &scriptedOtp{status: [6]byte{2, 1, 0, 0x03, 0x00, 0x00}}

	info, err := ReadInfo(context.Background(), conn, yubikey.PidYksOtp)
	require.NoError(t, err)
	assert.Equal(t, yubikey.Version{Major: 2, Minor: 1, Micro: 0}, info.Version)
	assert.Zero(t, info.Serial)
	assert.Equal(t, management.CapabilityOTP, info.SupportedCapabilities(yubikey.TransportUSB))
	assert.False(t, info.HasTransport(yubikey.TransportNFC))

	enabled, found := info.EnabledCapabilities(yubikey.TransportUSB)
	require.True(t, found)
	assert.Equal(t, management.CapabilityOTP, enabled)
}

// scriptedFido answers a CTAPHID INIT with a fixed firmware version and
// nothing else.
type scriptedFido struct {
	version [3]byte
	queue   [][]byte
}

func (c *scriptedFido) PacketSize() int { return 64 }

func (c *scriptedFido) SendPacket(packet []byte) error {
	if packet[4] != 0x86 { // INIT
		return nil
	}
	resp := make([]byte, 64)
	copy(resp[:4], packet[:4])
	resp[4] = 0x86
	resp[6] = 17
	copy(resp[7:15], packet[7:15]) // nonce echo
	resp[18] = 0x01                // assigned channel
	resp[19] = 0x02                // CTAPHID protocol version
	copy(resp[20:23], c.version[:])
	c.queue = append(c.queue, resp)
	return nil
}

func (c *scriptedFido) ReceivePacket(packet []byte) error {
	if len(c.queue) == 0 {
		return errors.New("no scripted packet")
	}
	copy(packet, c.queue[0])
	c.queue = c.queue[1:]
	return nil
}

func (c *scriptedFido) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (c *scriptedFido) Close() error                 { return nil }

func TestReadInfoFidoSecurityKeyFallback(t *testing.T) {
	conn := &scriptedFido{version: [3]byte{3, 3, 0}}

	info, err := ReadInfo(context.Background(), conn, yubikey.PidSkyFido)
	require.NoError(t, err)
	assert.True(t, info.IsSky)
	assert.Equal(t, yubikey.Version{Major: 3, Minor: 0, Micro: 0}, info.Version)
	assert.Equal(t, management.CapabilityU2F, info.SupportedCapabilities(yubikey.TransportUSB))

	enabled, found := info.EnabledCapabilities(yubikey.TransportUSB)
	require.True(t, found)
	assert.Equal(t, management.CapabilityU2F, enabled)
}
