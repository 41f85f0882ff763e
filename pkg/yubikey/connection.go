package yubikey

import "io"

// ConnectionType selects which transport-level connection to open on a device.
type ConnectionType int

const (
	ConnectionSmartCard ConnectionType = iota
	ConnectionOTP
	ConnectionFIDO
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionSmartCard:
		return "smartcard"
	case ConnectionOTP:
		return "otp"
	case ConnectionFIDO:
		return "fido"
	default:
		return "unknown"
	}
}

// UsbInterface returns the USB interface bit the connection type rides on.
func (c ConnectionType) UsbInterface() int {
	switch c {
	case ConnectionSmartCard:
		return UsbInterfaceCCID
	case ConnectionOTP:
		return UsbInterfaceOTP
	case ConnectionFIDO:
		return UsbInterfaceFIDO
	default:
		return 0
	}
}

// Connection is an open, exclusive channel to a single YubiKey interface.
type Connection interface {
	io.Closer
	Transport() Transport
}

// SmartCardConnection exchanges ISO 7816 APDUs with the CCID interface or an
// NFC reader.
type SmartCardConnection interface {
	Connection
	Transmit(apdu []byte) ([]byte, error)
}

// OtpConnection exchanges 8-byte HID feature reports with the keyboard
// interface.
type OtpConnection interface {
	Connection
	Receive(report []byte) error
	Send(report []byte) error
}

// FidoConnection exchanges fixed-size HID reports with the FIDO interface.
type FidoConnection interface {
	Connection
	PacketSize() int
	SendPacket(packet []byte) error
	ReceivePacket(packet []byte) error
}

// Device is anything a connection can be opened on.
type Device interface {
	Transport() Transport
	SupportsConnection(ConnectionType) bool
	OpenConnection(ConnectionType) (Connection, error)
}

// UsbDevice is a USB device node with a known product ID and a fingerprint
// that is stable for as long as the device stays plugged in.
type UsbDevice interface {
	Device
	Pid() UsbPid
	Fingerprint() string
}
