// Package management implements the YubiKey Management application over the
// smart card, OTP and FIDO transports: reading the device info pages and
// writing device configuration.
package management

import (
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// Device info TLV tags.
const (
	tagUsbSupported     = 0x01
	tagSerialNumber     = 0x02
	tagUsbEnabled       = 0x03
	tagFormFactor       = 0x04
	tagFirmwareVersion  = 0x05
	tagAutoEjectTimeout = 0x06
	tagChalRespTimeout  = 0x07
	tagDeviceFlags      = 0x08
	tagConfigLocked     = 0x0a
	tagUnlock           = 0x0b
	tagReboot           = 0x0c
	tagNfcSupported     = 0x0d
	tagNfcEnabled       = 0x0e
	tagMoreData         = 0x10
	tagPinComplexity    = 0x16
	tagNfcRestricted    = 0x17
	tagVersionQualifier = 0x19
)

// DeviceInfo is a decoded snapshot of a YubiKey's capabilities and
// configuration.
type DeviceInfo struct {
	Config           DeviceConfig
	Serial           uint32
	Version          yubikey.Version
	FormFactor       FormFactor
	Supported        map[yubikey.Transport]Capability
	IsLocked         bool
	IsFips           bool
	IsSky            bool
	PinComplexity    bool
	IsNfcRestricted  bool
	VersionQualifier VersionQualifier
}

// SupportedCapabilities returns the capabilities the device supports over a
// transport, or 0 if the transport is not available.
func (d *DeviceInfo) SupportedCapabilities(t yubikey.Transport) Capability {
	return d.Supported[t]
}

// EnabledCapabilities returns the enabled capabilities for a transport. The
// second return value is false when the device did not report enabled state
// for the transport.
func (d *DeviceInfo) EnabledCapabilities(t yubikey.Transport) (Capability, bool) {
	c, ok := d.Config.Enabled[t]
	return c, ok
}

// HasTransport reports whether the device supports any application over the
// transport.
func (d *DeviceInfo) HasTransport(t yubikey.Transport) bool {
	return d.Supported[t] != 0
}

// parseInfo builds a DeviceInfo from merged TLV pages. defaultVersion is
// used when the firmware version tag is absent (firmware before 5.0).
func parseInfo(data map[int][]byte, defaultVersion yubikey.Version) (*DeviceInfo, error) {
	formFactorValue := readInt(data[tagFormFactor])

	version := defaultVersion
	if raw, ok := data[tagFirmwareVersion]; ok {
		version = yubikey.VersionFromBytes(raw)
	}

	qualifier := VersionQualifier{Version: version, Type: QualifierFinal}
	if raw, ok := data[tagVersionQualifier]; ok {
		q, err := parseVersionQualifier(raw)
		if err != nil {
			return nil, err
		}
		qualifier = q
		if version.IsZero() {
			// Development builds report 0.0.0; the qualifier carries the
			// actual version.
			version = q.Version
		}
	}

	supported := make(map[yubikey.Transport]Capability)
	enabled := make(map[yubikey.Transport]Capability)

	if version == (yubikey.Version{Major: 4, Minor: 2, Micro: 4}) {
		// 4.2.4 doesn't report supported applications correctly, but they
		// are always 0x3f.
		supported[yubikey.TransportUSB] = 0x3f
	} else {
		supported[yubikey.TransportUSB] = Capability(readInt(data[tagUsbSupported]))
	}
	if raw, ok := data[tagUsbEnabled]; ok && version.Major != 4 {
		// YK4 reports USB enabled state unreliably; callers derive it from
		// the supported set and the USB mode instead.
		enabled[yubikey.TransportUSB] = Capability(readInt(raw))
	}
	if raw, ok := data[tagNfcSupported]; ok {
		supported[yubikey.TransportNFC] = Capability(readInt(raw))
		enabled[yubikey.TransportNFC] = Capability(readInt(data[tagNfcEnabled]))
	}

	config := DeviceConfig{Enabled: enabled}
	if raw, ok := data[tagAutoEjectTimeout]; ok {
		v := uint16(readInt(raw))
		config.AutoEjectTimeout = &v
	}
	if raw, ok := data[tagChalRespTimeout]; ok {
		v := byte(readInt(raw))
		config.ChallengeResponseTimeout = &v
	}
	if raw, ok := data[tagDeviceFlags]; ok {
		v := byte(readInt(raw))
		config.DeviceFlags = &v
	}

	return &DeviceInfo{
		Config:           config,
		Serial:           uint32(readInt(data[tagSerialNumber])),
		Version:          version,
		FormFactor:       formFactorFromValue(formFactorValue),
		Supported:        supported,
		IsLocked:         readInt(data[tagConfigLocked]) == 1,
		IsFips:           formFactorValue&0x80 != 0,
		IsSky:            formFactorValue&0x40 != 0,
		PinComplexity:    readInt(data[tagPinComplexity]) == 1,
		IsNfcRestricted:  readInt(data[tagNfcRestricted]) == 1,
		VersionQualifier: qualifier,
	}, nil
}

// readInt reads a variable length big endian integer; missing or empty data
// reads as zero.
func readInt(data []byte) int {
	v := 0
	for _, b := range data {
		v = v<<8 | int(b)
	}
	return v
}
