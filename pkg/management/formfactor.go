package management

// FormFactor is the physical form factor reported in the device info.
type FormFactor int

const (
	FormFactorUnknown       FormFactor = 0x00
	FormFactorUsbAKeychain  FormFactor = 0x01
	FormFactorUsbANano      FormFactor = 0x02
	FormFactorUsbCKeychain  FormFactor = 0x03
	FormFactorUsbCNano      FormFactor = 0x04
	FormFactorUsbCLightning FormFactor = 0x05
	FormFactorUsbABio       FormFactor = 0x06
	FormFactorUsbCBio       FormFactor = 0x07
)

// formFactorFromValue masks off the FIPS and SKY flag bits which share the
// form factor byte.
func formFactorFromValue(value int) FormFactor {
	f := FormFactor(value & 0x0f)
	if f > FormFactorUsbCBio {
		return FormFactorUnknown
	}
	return f
}

func (f FormFactor) String() string {
	switch f {
	case FormFactorUsbAKeychain:
		return "Keychain (USB-A)"
	case FormFactorUsbANano:
		return "Nano (USB-A)"
	case FormFactorUsbCKeychain:
		return "Keychain (USB-C)"
	case FormFactorUsbCNano:
		return "Nano (USB-C)"
	case FormFactorUsbCLightning:
		return "Keychain (USB-C, Lightning)"
	case FormFactorUsbABio:
		return "Bio (USB-A)"
	case FormFactorUsbCBio:
		return "Bio (USB-C)"
	default:
		return "Unknown"
	}
}
