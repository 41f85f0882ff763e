package yubikit

import (
	"github.com/seagrayinc/yubikit/internal/hidraw"
	"github.com/seagrayinc/yubikit/internal/pcsc"
)

// NewDefaultManager returns a Manager over the platform's PC/SC and HID
// subsystems.
func NewDefaultManager() *Manager {
	return NewManager(pcsc.NewSource(), hidraw.NewSource())
}
