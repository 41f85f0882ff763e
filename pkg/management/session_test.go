package management

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seagrayinc/yubikit/internal/tlv"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// fakeBackend serves canned device info pages and records writes.
type fakeBackend struct {
	pages     [][]byte
	readCalls int
	written   [][]byte
	modes     [][]byte
}

func (f *fakeBackend) readConfig(_ context.Context, page byte) ([]byte, error) {
	f.readCalls++
	if int(page) >= len(f.pages) {
		return nil, errors.New("no such page")
	}
	return f.pages[page], nil
}

func (f *fakeBackend) writeConfig(_ context.Context, config []byte) error {
	f.written = append(f.written, config)
	return nil
}

func (f *fakeBackend) setMode(_ context.Context, data []byte) error {
	f.modes = append(f.modes, data)
	return nil
}

func (f *fakeBackend) deviceReset(context.Context) error { return nil }
func (f *fakeBackend) close() error                      { return nil }

// page builds a length-prefixed device info page.
func page(records ...tlv.Tlv) []byte {
	data := tlv.EncodeList(records)
	return append([]byte{byte(len(data))}, data...)
}

func newTestSession(version yubikey.Version, pages ...[]byte) (*Session, *fakeBackend) {
	b := &fakeBackend{pages: pages}
	return &Session{backend: b, version: version}, b
}

func TestGetDeviceInfoMergesPages(t *testing.T) {
	s, b := newTestSession(yubikey.Version{Major: 5, Minor: 7, Micro: 0},
		page(
			tlv.Tlv{Tag: tagFirmwareVersion, Value: []byte{5, 7, 0}},
			tlv.Tlv{Tag: tagSerialNumber, Value: []byte{0x00, 0x12, 0x34, 0x56}},
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x02, 0x3b}},
			tlv.Tlv{Tag: tagUsbEnabled, Value: []byte{0x02, 0x3b}},
			tlv.Tlv{Tag: tagMoreData, Value: []byte{1}},
		),
		page(
			tlv.Tlv{Tag: tagFormFactor, Value: []byte{0x01}},
			tlv.Tlv{Tag: tagNfcSupported, Value: []byte{0x02, 0x3b}},
			tlv.Tlv{Tag: tagNfcEnabled, Value: []byte{0x02, 0x3b}},
			tlv.Tlv{Tag: tagPinComplexity, Value: []byte{1}},
		),
	)

	info, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)

	// Both pages were fetched and merged.
	assert.Equal(t, 2, b.readCalls)
	assert.Equal(t, uint32(0x123456), info.Serial)
	assert.Equal(t, yubikey.Version{Major: 5, Minor: 7, Micro: 0}, info.Version)
	assert.Equal(t, FormFactorUsbAKeychain, info.FormFactor)
	assert.Equal(t, Capability(0x23b), info.SupportedCapabilities(yubikey.TransportUSB))
	assert.Equal(t, Capability(0x23b), info.SupportedCapabilities(yubikey.TransportNFC))
	assert.True(t, info.PinComplexity)

	enabled, ok := info.EnabledCapabilities(yubikey.TransportUSB)
	require.True(t, ok)
	assert.Equal(t, Capability(0x23b), enabled)
}

func TestGetDeviceInfoStopsOnMalformedMoreData(t *testing.T) {
	s, b := newTestSession(yubikey.Version{Major: 5, Minor: 7, Micro: 0},
		page(
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x3b}},
			// Two bytes: not a well-formed continuation flag.
			tlv.Tlv{Tag: tagMoreData, Value: []byte{1, 0}},
		),
	)

	_, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.readCalls)
}

func TestGetDeviceInfoLengthMismatch(t *testing.T) {
	good := page(tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x3b}})
	bad := good[:len(good)-1] // declared length no longer matches the payload

	s, _ := newTestSession(yubikey.Version{Major: 5, Minor: 7, Micro: 0}, bad)
	_, err := s.GetDeviceInfo(context.Background())

	var badResp *yubikey.BadResponseError
	require.ErrorAs(t, err, &badResp)
}

func TestGetDeviceInfoVersionGate(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 4, Minor: 0, Micro: 9})
	_, err := s.GetDeviceInfo(context.Background())

	var notSupported *yubikey.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestFirmware424SupportedQuirk(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 4, Minor: 2, Micro: 4},
		page(
			tlv.Tlv{Tag: tagFirmwareVersion, Value: []byte{4, 2, 4}},
			// Arbitrary wrong self-report; must be ignored.
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x0b}},
		),
	)

	info, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Capability(0x3f), info.SupportedCapabilities(yubikey.TransportUSB))
}

func TestMajor4OmitsUsbEnabled(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 4, Minor: 3, Micro: 5},
		page(
			tlv.Tlv{Tag: tagFirmwareVersion, Value: []byte{4, 3, 5}},
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x3b}},
			tlv.Tlv{Tag: tagUsbEnabled, Value: []byte{0x3b}},
		),
	)

	info, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	_, ok := info.EnabledCapabilities(yubikey.TransportUSB)
	assert.False(t, ok, "YK4 enabled state must not be trusted")
}

func TestVersionQualifierOverridesSessionVersion(t *testing.T) {
	qualifier := tlv.EncodeList([]tlv.Tlv{
		{Tag: tagQualifierVersion, Value: []byte{5, 7, 2}},
		{Tag: tagQualifierType, Value: []byte{0}}, // alpha
		{Tag: tagQualifierIteration, Value: []byte{0, 0, 0, 5}},
	})
	s, _ := newTestSession(yubikey.Version{Major: 5, Minor: 0, Micro: 0},
		page(
			tlv.Tlv{Tag: tagFirmwareVersion, Value: []byte{0, 0, 0}},
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x3b}},
			tlv.Tlv{Tag: tagVersionQualifier, Value: qualifier},
		),
	)

	info, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, yubikey.Version{Major: 5, Minor: 7, Micro: 2}, info.Version)
	assert.Equal(t, QualifierAlpha, info.VersionQualifier.Type)
	assert.Equal(t, 5, info.VersionQualifier.Iteration)
	assert.Equal(t, "5.7.2.alpha.5", info.VersionQualifier.String())

	// Subsequent feature gating on this session uses the qualifier version.
	assert.Equal(t, yubikey.Version{Major: 5, Minor: 7, Micro: 2}, s.Version())
}

func TestFormFactorFlags(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 5, Minor: 4, Micro: 3},
		page(
			tlv.Tlv{Tag: tagFirmwareVersion, Value: []byte{5, 4, 3}},
			tlv.Tlv{Tag: tagUsbSupported, Value: []byte{0x02, 0x3f}},
			tlv.Tlv{Tag: tagFormFactor, Value: []byte{0x80 | 0x03}},
		),
	)

	info, err := s.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.IsFips)
	assert.False(t, info.IsSky)
	assert.Equal(t, FormFactorUsbCKeychain, info.FormFactor)
}

func TestUpdateDeviceConfig(t *testing.T) {
	s, b := newTestSession(yubikey.Version{Major: 5, Minor: 4, Micro: 3})

	timeout := byte(20)
	err := s.UpdateDeviceConfig(context.Background(), DeviceConfig{
		Enabled: map[yubikey.Transport]Capability{
			yubikey.TransportUSB: CapabilityOTP | CapabilityFIDO2,
		},
		ChallengeResponseTimeout: &timeout,
	}, true, nil, nil)
	require.NoError(t, err)

	require.Len(t, b.written, 1)
	data := b.written[0]
	require.Equal(t, int(data[0]), len(data)-1)

	m, err := tlv.DecodeMap(data[1:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, m[tagUsbEnabled])
	assert.Equal(t, []byte{20}, m[tagChalRespTimeout])
	_, hasReboot := m[tagReboot]
	assert.True(t, hasReboot)
}

func TestUpdateDeviceConfigVersionGate(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 4, Minor: 3, Micro: 5})
	err := s.UpdateDeviceConfig(context.Background(), DeviceConfig{}, false, nil, nil)

	var notSupported *yubikey.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestUpdateDeviceConfigLockCodeLength(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 5, Minor: 4, Micro: 3})
	err := s.UpdateDeviceConfig(context.Background(), DeviceConfig{}, false, []byte{1, 2, 3}, nil)
	require.Error(t, err)
}

func TestDeviceConfigTooLarge(t *testing.T) {
	_, err := DeviceConfig{}.Bytes(false, make([]byte, 300), nil)
	require.Error(t, err)
}

func TestSetModeLegacy(t *testing.T) {
	s, b := newTestSession(yubikey.Version{Major: 4, Minor: 3, Micro: 5})

	err := s.SetMode(context.Background(), yubikey.ModeOTPCCID, 15, 2)
	require.NoError(t, err)

	require.Len(t, b.modes, 1)
	assert.Equal(t, []byte{0x02, 15, 0x00, 0x02}, b.modes[0])
}

func TestSetModeTranslatesToConfigOnYK5(t *testing.T) {
	s, b := newTestSession(yubikey.Version{Major: 5, Minor: 4, Micro: 3})

	err := s.SetMode(context.Background(), yubikey.ModeFIDOCCID, 0, 0)
	require.NoError(t, err)
	require.Empty(t, b.modes)
	require.Len(t, b.written, 1)

	m, err := tlv.DecodeMap(b.written[0][1:])
	require.NoError(t, err)
	want := CapabilityU2F | CapabilityFIDO2 | CapabilityOATH | CapabilityPIV | CapabilityOPENPGP
	assert.Equal(t, capabilityBytes(want), m[tagUsbEnabled])
}

func TestSetModeTooOld(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 2, Minor: 4, Micro: 0})
	err := s.SetMode(context.Background(), yubikey.ModeOTP, 0, 0)

	var notSupported *yubikey.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}

func TestDeviceResetVersionGate(t *testing.T) {
	s, _ := newTestSession(yubikey.Version{Major: 5, Minor: 4, Micro: 3})
	err := s.DeviceReset(context.Background())

	var notSupported *yubikey.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
}
