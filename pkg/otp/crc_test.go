package otp

import "testing"

func TestCalculateCrc(t *testing.T) {
	if got := CalculateCrc([]byte("123456789")); got != 0x6f91 {
		t.Errorf("CalculateCrc = %04x, want 6f91", got)
	}
}

func TestCheckCrc(t *testing.T) {
	data := []byte{0x00, 0x9a, 0xc2, 0x5e}
	crc := CalculateCrc(data)
	withCrc := append(data, byte(crc), byte(crc>>8))
	if !CheckCrc(withCrc) {
		t.Error("CheckCrc should accept data with appended CRC")
	}
	withCrc[0] ^= 0xff
	if CheckCrc(withCrc) {
		t.Error("CheckCrc should reject corrupted data")
	}
}
