package yubikey

import "fmt"

// Transport identifies the physical link a YubiKey is reached over.
type Transport int

const (
	TransportUSB Transport = iota
	TransportNFC
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "USB"
	case TransportNFC:
		return "NFC"
	default:
		return "unknown"
	}
}

// USB interface bits as reported in the device's PID layout.
const (
	UsbInterfaceOTP  = 0x01
	UsbInterfaceFIDO = 0x02
	UsbInterfaceCCID = 0x04
)

// UsbInterfaceName returns the conventional name for a single interface bit.
func UsbInterfaceName(bit int) string {
	switch bit {
	case UsbInterfaceOTP:
		return "OTP"
	case UsbInterfaceFIDO:
		return "FIDO"
	case UsbInterfaceCCID:
		return "CCID"
	default:
		return "unknown"
	}
}

// UsbMode is the legacy mode byte used by the pre-5.0 MODE_SET command.
type UsbMode byte

// Legacy USB mode codes.
const (
	ModeOTP         UsbMode = 0x00
	ModeCCID        UsbMode = 0x01
	ModeOTPCCID     UsbMode = 0x02
	ModeFIDO        UsbMode = 0x03
	ModeOTPFIDO     UsbMode = 0x04
	ModeFIDOCCID    UsbMode = 0x05
	ModeOTPFIDOCCID UsbMode = 0x06
)

var modeInterfaces = map[UsbMode]int{
	ModeOTP:         UsbInterfaceOTP,
	ModeCCID:        UsbInterfaceCCID,
	ModeOTPCCID:     UsbInterfaceOTP | UsbInterfaceCCID,
	ModeFIDO:        UsbInterfaceFIDO,
	ModeOTPFIDO:     UsbInterfaceOTP | UsbInterfaceFIDO,
	ModeFIDOCCID:    UsbInterfaceFIDO | UsbInterfaceCCID,
	ModeOTPFIDOCCID: UsbInterfaceOTP | UsbInterfaceFIDO | UsbInterfaceCCID,
}

// Interfaces returns the USB interface bits enabled by the mode.
func (m UsbMode) Interfaces() int {
	return modeInterfaces[m]
}

// ModeForInterfaces maps a set of USB interface bits onto the legacy mode code.
func ModeForInterfaces(interfaces int) (UsbMode, error) {
	for mode, bits := range modeInterfaces {
		if bits == interfaces {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("no mode matching interfaces %02x", interfaces)
}
