package management

import (
	"fmt"

	"github.com/seagrayinc/yubikit/internal/tlv"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// LockCodeSize is the length of a configuration lock code. A new lock code
// of all zeroes clears the lock.
const LockCodeSize = 16

// DeviceConfig holds the writable device settings. Nil fields and missing
// map entries are left unchanged on the device.
type DeviceConfig struct {
	Enabled                  map[yubikey.Transport]Capability
	AutoEjectTimeout         *uint16
	ChallengeResponseTimeout *byte
	DeviceFlags              *byte
}

// Bytes serializes the configuration for a write, as a length-prefixed TLV
// block. The encoded payload must fit in a single byte length, 255 bytes.
func (c DeviceConfig) Bytes(reboot bool, currentLockCode, newLockCode []byte) ([]byte, error) {
	var records []tlv.Tlv
	if reboot {
		records = append(records, tlv.Tlv{Tag: tagReboot})
	}
	if currentLockCode != nil {
		records = append(records, tlv.Tlv{Tag: tagUnlock, Value: currentLockCode})
	}
	if enabled, ok := c.Enabled[yubikey.TransportUSB]; ok {
		records = append(records, tlv.Tlv{Tag: tagUsbEnabled, Value: capabilityBytes(enabled)})
	}
	if enabled, ok := c.Enabled[yubikey.TransportNFC]; ok {
		records = append(records, tlv.Tlv{Tag: tagNfcEnabled, Value: capabilityBytes(enabled)})
	}
	if c.AutoEjectTimeout != nil {
		v := *c.AutoEjectTimeout
		records = append(records, tlv.Tlv{Tag: tagAutoEjectTimeout, Value: []byte{byte(v >> 8), byte(v)}})
	}
	if c.ChallengeResponseTimeout != nil {
		records = append(records, tlv.Tlv{Tag: tagChalRespTimeout, Value: []byte{*c.ChallengeResponseTimeout}})
	}
	if c.DeviceFlags != nil {
		records = append(records, tlv.Tlv{Tag: tagDeviceFlags, Value: []byte{*c.DeviceFlags}})
	}
	if newLockCode != nil {
		records = append(records, tlv.Tlv{Tag: tagConfigLocked, Value: newLockCode})
	}

	data := tlv.EncodeList(records)
	if len(data) > 0xff {
		return nil, fmt.Errorf("configuration too large: %d bytes", len(data))
	}
	return append([]byte{byte(len(data))}, data...), nil
}

func capabilityBytes(c Capability) []byte {
	return []byte{byte(c >> 8), byte(c)}
}
