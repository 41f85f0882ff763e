package yubikey

import "fmt"

// VendorYubico is the Yubico USB vendor ID.
const VendorYubico = 0x1050

// KeyType is the broad product family a PID belongs to.
type KeyType int

const (
	TypeYKS KeyType = iota // YubiKey Standard
	TypeNEO                // YubiKey NEO
	TypeSKY                // Security Key by Yubico
	TypeYK4                // YubiKey 4/5 series
	TypeYKP                // YubiKey Plus
)

func (t KeyType) String() string {
	switch t {
	case TypeYKS:
		return "YubiKey Standard"
	case TypeNEO:
		return "YubiKey NEO"
	case TypeSKY:
		return "Security Key by Yubico"
	case TypeYK4:
		return "YubiKey 4/5"
	case TypeYKP:
		return "YubiKey Plus"
	default:
		return "unknown"
	}
}

// UsbPid is a known Yubico USB product ID. The PID encodes the product family
// and which USB interfaces the device exposes.
type UsbPid uint16

const (
	PidYksOtp         UsbPid = 0x0010
	PidNeoOtp         UsbPid = 0x0110
	PidNeoOtpCcid     UsbPid = 0x0111
	PidNeoCcid        UsbPid = 0x0112
	PidNeoFido        UsbPid = 0x0113
	PidNeoOtpFido     UsbPid = 0x0114
	PidNeoFidoCcid    UsbPid = 0x0115
	PidNeoOtpFidoCcid UsbPid = 0x0116
	PidSkyFido        UsbPid = 0x0120
	PidYk4Otp         UsbPid = 0x0401
	PidYk4Fido        UsbPid = 0x0402
	PidYk4OtpFido     UsbPid = 0x0403
	PidYk4Ccid        UsbPid = 0x0404
	PidYk4OtpCcid     UsbPid = 0x0405
	PidYk4FidoCcid    UsbPid = 0x0406
	PidYk4OtpFidoCcid UsbPid = 0x0407
	PidYkpOtpFido     UsbPid = 0x0410
)

type pidTraits struct {
	name       string
	keyType    KeyType
	interfaces int
}

var pidTable = map[UsbPid]pidTraits{
	PidYksOtp:         {"YKS OTP", TypeYKS, UsbInterfaceOTP},
	PidNeoOtp:         {"NEO OTP", TypeNEO, UsbInterfaceOTP},
	PidNeoOtpCcid:     {"NEO OTP+CCID", TypeNEO, UsbInterfaceOTP | UsbInterfaceCCID},
	PidNeoCcid:        {"NEO CCID", TypeNEO, UsbInterfaceCCID},
	PidNeoFido:        {"NEO FIDO", TypeNEO, UsbInterfaceFIDO},
	PidNeoOtpFido:     {"NEO OTP+FIDO", TypeNEO, UsbInterfaceOTP | UsbInterfaceFIDO},
	PidNeoFidoCcid:    {"NEO FIDO+CCID", TypeNEO, UsbInterfaceFIDO | UsbInterfaceCCID},
	PidNeoOtpFidoCcid: {"NEO OTP+FIDO+CCID", TypeNEO, UsbInterfaceOTP | UsbInterfaceFIDO | UsbInterfaceCCID},
	PidSkyFido:        {"SKY FIDO", TypeSKY, UsbInterfaceFIDO},
	PidYk4Otp:         {"YK4 OTP", TypeYK4, UsbInterfaceOTP},
	PidYk4Fido:        {"YK4 FIDO", TypeYK4, UsbInterfaceFIDO},
	PidYk4OtpFido:     {"YK4 OTP+FIDO", TypeYK4, UsbInterfaceOTP | UsbInterfaceFIDO},
	PidYk4Ccid:        {"YK4 CCID", TypeYK4, UsbInterfaceCCID},
	PidYk4OtpCcid:     {"YK4 OTP+CCID", TypeYK4, UsbInterfaceOTP | UsbInterfaceCCID},
	PidYk4FidoCcid:    {"YK4 FIDO+CCID", TypeYK4, UsbInterfaceFIDO | UsbInterfaceCCID},
	PidYk4OtpFidoCcid: {"YK4 OTP+FIDO+CCID", TypeYK4, UsbInterfaceOTP | UsbInterfaceFIDO | UsbInterfaceCCID},
	PidYkpOtpFido:     {"YKP OTP+FIDO", TypeYKP, UsbInterfaceOTP | UsbInterfaceFIDO},
}

// PidFromValue maps a raw USB product ID to a known UsbPid.
func PidFromValue(value uint16) (UsbPid, error) {
	pid := UsbPid(value)
	if _, ok := pidTable[pid]; !ok {
		return 0, fmt.Errorf("unknown YubiKey product ID: 0x%04x", value)
	}
	return pid, nil
}

// PidForTraits finds the PID matching a product family and interface set.
func PidForTraits(keyType KeyType, interfaces int) (UsbPid, error) {
	for pid, t := range pidTable {
		if t.keyType == keyType && t.interfaces == interfaces {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("no known PID for type %s with interfaces %02x", keyType, interfaces)
}

// Type returns the product family the PID belongs to.
func (p UsbPid) Type() KeyType {
	return pidTable[p].keyType
}

// Interfaces returns the USB interface bits the PID exposes.
func (p UsbPid) Interfaces() int {
	return pidTable[p].interfaces
}

// SupportsInterface reports whether the PID exposes the given interface bit.
func (p UsbPid) SupportsInterface(bit int) bool {
	return pidTable[p].interfaces&bit != 0
}

func (p UsbPid) String() string {
	if t, ok := pidTable[p]; ok {
		return t.name
	}
	return fmt.Sprintf("PID 0x%04x", uint16(p))
}
