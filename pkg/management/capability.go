package management

import "strings"

// Capability is a bitmask of applications a YubiKey can expose on a
// transport.
type Capability int

const (
	CapabilityOTP     Capability = 0x01
	CapabilityU2F     Capability = 0x02
	CapabilityOPENPGP Capability = 0x08
	CapabilityPIV     Capability = 0x10
	CapabilityOATH    Capability = 0x20
	CapabilityFIDO2   Capability = 0x200
)

var capabilityNames = []struct {
	bit  Capability
	name string
}{
	{CapabilityOTP, "OTP"},
	{CapabilityU2F, "FIDO U2F"},
	{CapabilityOPENPGP, "OpenPGP"},
	{CapabilityPIV, "PIV"},
	{CapabilityOATH, "OATH"},
	{CapabilityFIDO2, "FIDO2"},
}

func (c Capability) String() string {
	var names []string
	for _, e := range capabilityNames {
		if c&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
