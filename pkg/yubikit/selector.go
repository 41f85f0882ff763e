package yubikit

import (
	"fmt"

	"github.com/seagrayinc/yubikit/pkg/management"
)

// Selector identifies one device across enumeration passes: by serial number
// when the device reports one, otherwise by the identity key of the snapshot
// it was seen in. Fingerprint selectors are only stable while the device
// stays plugged in.
type Selector struct {
	Serial      uint32
	Fingerprint string
}

// BySerial selects a device by its serial number.
func BySerial(serial uint32) Selector {
	return Selector{Serial: serial}
}

// Matches reports whether the selector identifies a device with the given
// info and identity key.
func (s Selector) Matches(info *management.DeviceInfo, key string) bool {
	if s.Serial != 0 {
		return info.Serial == s.Serial
	}
	return s.Fingerprint == key
}

func (s Selector) String() string {
	if s.Serial != 0 {
		return fmt.Sprintf("serial %d", s.Serial)
	}
	return fmt.Sprintf("fingerprint %s", s.Fingerprint)
}
