package yubikey

import (
	"errors"
	"fmt"
)

// ErrApplicationNotAvailable is returned when the requested application is
// missing or disabled on the device.
var ErrApplicationNotAvailable = errors.New("the application is not available on this device")

// BadResponseError indicates the device answered with data that fails
// validation (wrong length, bad checksum, malformed TLV).
type BadResponseError struct {
	Message string
}

func (e *BadResponseError) Error() string {
	return "bad response from device: " + e.Message
}

// BadResponse builds a BadResponseError from a format string.
func BadResponse(format string, args ...any) error {
	return &BadResponseError{Message: fmt.Sprintf(format, args...)}
}

// NotSupportedError indicates the operation requires firmware or transport
// features the device does not have.
type NotSupportedError struct {
	Message string
}

func (e *NotSupportedError) Error() string {
	return "not supported: " + e.Message
}

// NotSupported builds a NotSupportedError from a format string.
func NotSupported(format string, args ...any) error {
	return &NotSupportedError{Message: fmt.Sprintf(format, args...)}
}

// RequireVersion returns a NotSupportedError unless version is at least the
// given firmware version.
func RequireVersion(version Version, major, minor, micro byte) error {
	if !version.IsAtLeast(major, minor, micro) {
		return NotSupported("requires firmware %d.%d.%d or later, found %s", major, minor, micro, version)
	}
	return nil
}
