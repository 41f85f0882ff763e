package yubikit

import "github.com/seagrayinc/yubikit/pkg/management"

// DeviceRecord pairs a resolved device with its info snapshot and the
// selector that singles it out in later enumeration passes.
type DeviceRecord struct {
	Device   *CompositeDevice
	Info     *management.DeviceInfo
	Selector Selector
}

// Name returns the device's product name.
func (r *DeviceRecord) Name() string {
	return management.ProductName(r.Info)
}
