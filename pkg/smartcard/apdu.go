package smartcard

import "fmt"

// Apdu is an ISO 7816-4 command before wire encoding.
type Apdu struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
}

// Status words.
const (
	SwSuccess                = 0x9000
	SwFileNotFound           = 0x6a82
	SwAppletSelectFailed     = 0x6999
	SwWrongParametersP1P2    = 0x6b00
	SwInvalidInstruction     = 0x6d00
	SwConditionsNotSatisfied = 0x6985
)

// ApduError is a non-success status word returned by the card.
type ApduError struct {
	SW   uint16
	Data []byte
}

func (e *ApduError) Error() string {
	return fmt.Sprintf("APDU error: SW=0x%04x", e.SW)
}

// encode produces the short-form wire encoding of the command.
func (a Apdu) encode() ([]byte, error) {
	if len(a.Data) > 0xff {
		return nil, fmt.Errorf("APDU data too long for short encoding: %d bytes", len(a.Data))
	}
	cmd := []byte{a.Cla, a.Ins, a.P1, a.P2}
	if len(a.Data) > 0 {
		cmd = append(cmd, byte(len(a.Data)))
		cmd = append(cmd, a.Data...)
	}
	return cmd, nil
}
