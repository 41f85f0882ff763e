package yubikit

import (
	"context"

	"github.com/seagrayinc/yubikit/pkg/management"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// CompositeDevice is a physical YubiKey reassembled from the per-interface
// device nodes of one enumeration pass. Opening a connection routes through
// the group that resolved it, so the right node is found even when several
// identical devices are plugged in.
type CompositeDevice struct {
	group *PidGroup
	key   string
	info  *management.DeviceInfo
}

// Pid returns the device's USB product ID.
func (d *CompositeDevice) Pid() yubikey.UsbPid { return d.group.Pid() }

// Info returns the device info read while resolving the device.
func (d *CompositeDevice) Info() *management.DeviceInfo { return d.info }

// Name returns the device's product name.
func (d *CompositeDevice) Name() string { return management.ProductName(d.info) }

// Transport returns TransportUSB; composite devices are only built from USB
// enumeration.
func (d *CompositeDevice) Transport() yubikey.Transport { return yubikey.TransportUSB }

// SupportsConnection reports whether the product ID exposes the interface the
// connection type needs.
func (d *CompositeDevice) SupportsConnection(ct yubikey.ConnectionType) bool {
	return d.group.SupportsConnection(ct)
}

// OpenConnection opens a connection to this device.
func (d *CompositeDevice) OpenConnection(ct yubikey.ConnectionType) (yubikey.Connection, error) {
	return d.OpenConnectionContext(context.Background(), ct)
}

// OpenConnectionContext opens a connection to this device, using ctx for any
// probing needed to locate the right device node.
func (d *CompositeDevice) OpenConnectionContext(ctx context.Context, ct yubikey.ConnectionType) (yubikey.Connection, error) {
	return d.group.OpenConnection(ctx, d.key, ct)
}
