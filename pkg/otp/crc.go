package otp

// CRC16 (CRC-13239) as used by the YubiKey OTP protocol.

// crcOkResidual is the expected residual when checking data with its CRC appended.
const crcOkResidual = 0xf0b8

// CalculateCrc computes the CRC16 checksum over data.
func CalculateCrc(data []byte) uint16 {
	crc := 0xffff
	for _, b := range data {
		crc ^= int(b)
		for i := 0; i < 8; i++ {
			j := crc & 1
			crc >>= 1
			if j != 0 {
				crc ^= 0x8408
			}
		}
	}
	return uint16(crc)
}

// CheckCrc verifies data that has its CRC16 appended to the end.
func CheckCrc(data []byte) bool {
	return CalculateCrc(data) == crcOkResidual
}
