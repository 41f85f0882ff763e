package yubikey

import "testing"

func TestPidFromValue(t *testing.T) {
	pid, err := PidFromValue(0x0407)
	if err != nil {
		t.Fatal(err)
	}
	if pid != PidYk4OtpFidoCcid {
		t.Errorf("got %v, want %v", pid, PidYk4OtpFidoCcid)
	}
	if pid.Type() != TypeYK4 {
		t.Errorf("type = %v, want YK4", pid.Type())
	}
	if pid.Interfaces() != UsbInterfaceOTP|UsbInterfaceFIDO|UsbInterfaceCCID {
		t.Errorf("interfaces = %02x", pid.Interfaces())
	}

	if _, err := PidFromValue(0xbeef); err == nil {
		t.Error("expected error for unknown PID")
	}
}

func TestPidForTraits(t *testing.T) {
	pid, err := PidForTraits(TypeNEO, UsbInterfaceOTP|UsbInterfaceCCID)
	if err != nil {
		t.Fatal(err)
	}
	if pid != PidNeoOtpCcid {
		t.Errorf("got %v, want %v", pid, PidNeoOtpCcid)
	}
}

func TestPidSupportsInterface(t *testing.T) {
	if PidSkyFido.SupportsInterface(UsbInterfaceCCID) {
		t.Error("SKY FIDO should not expose CCID")
	}
	if !PidSkyFido.SupportsInterface(UsbInterfaceFIDO) {
		t.Error("SKY FIDO should expose FIDO")
	}
}

func TestModeForInterfaces(t *testing.T) {
	mode, err := ModeForInterfaces(UsbInterfaceOTP | UsbInterfaceFIDO | UsbInterfaceCCID)
	if err != nil {
		t.Fatal(err)
	}
	if mode != ModeOTPFIDOCCID {
		t.Errorf("got %v, want %v", mode, ModeOTPFIDOCCID)
	}
	if mode.Interfaces() != UsbInterfaceOTP|UsbInterfaceFIDO|UsbInterfaceCCID {
		t.Errorf("round trip mismatch: %02x", mode.Interfaces())
	}
	if _, err := ModeForInterfaces(0); err == nil {
		t.Error("expected error for empty interface set")
	}
}
