package yubikey

import (
	"fmt"
	"regexp"
)

// Version is a YubiKey firmware version triple.
type Version struct {
	Major byte
	Minor byte
	Micro byte
}

var versionPattern = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)

// VersionFromBytes reads a version triple from the first three bytes of b.
// Shorter input yields the zero version.
func VersionFromBytes(b []byte) Version {
	if len(b) < 3 {
		return Version{}
	}
	return Version{Major: b[0], Minor: b[1], Micro: b[2]}
}

// ParseVersion extracts a version triple from a string such as
// "Firmware version 5.2.4".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("no version found in %q", s)
	}
	var parts [3]int
	for i := 0; i < 3; i++ {
		fmt.Sscanf(m[i+1], "%d", &parts[i])
		if parts[i] > 255 {
			return Version{}, fmt.Errorf("version component out of range in %q", s)
		}
	}
	return Version{Major: byte(parts[0]), Minor: byte(parts[1]), Micro: byte(parts[2])}, nil
}

// Bytes returns the wire form of the version.
func (v Version) Bytes() []byte {
	return []byte{v.Major, v.Minor, v.Micro}
}

// IsZero reports whether the version is the development sentinel 0.0.0.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare orders versions numerically: -1 if v < other, 0 if equal, 1 if v > other.
func (v Version) Compare(other Version) int {
	a := int(v.Major)<<16 | int(v.Minor)<<8 | int(v.Micro)
	b := int(other.Major)<<16 | int(other.Minor)<<8 | int(other.Micro)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsAtLeast reports whether v is at least the given version. Development
// builds (major version 0) are treated as newer than everything.
func (v Version) IsAtLeast(major, minor, micro byte) bool {
	if v.Major == 0 {
		return true
	}
	return v.Compare(Version{major, minor, micro}) >= 0
}

// IsLessThan reports whether v is older than the given version. Development
// builds are never considered older.
func (v Version) IsLessThan(major, minor, micro byte) bool {
	return !v.IsAtLeast(major, minor, micro)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}
