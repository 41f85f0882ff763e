package management

import (
	"context"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// Configuration accumulates changes against a device info snapshot and
// produces a minimal DeviceConfig delta containing only the settings that
// actually differ from the device's current state.
type Configuration struct {
	base    *DeviceInfo
	pending DeviceConfig
}

// NewConfiguration starts a configuration change set on top of a snapshot.
func NewConfiguration(base *DeviceInfo) *Configuration {
	return &Configuration{
		base:    base,
		pending: DeviceConfig{Enabled: make(map[yubikey.Transport]Capability)},
	}
}

// EnabledCapabilities returns the capabilities that would be enabled on the
// transport after applying the pending changes.
func (c *Configuration) EnabledCapabilities(t yubikey.Transport) Capability {
	if caps, ok := c.pending.Enabled[t]; ok {
		return caps
	}
	caps, _ := c.base.EnabledCapabilities(t)
	return caps
}

// SetEnabled replaces the enabled capability set for a transport.
func (c *Configuration) SetEnabled(t yubikey.Transport, caps Capability) *Configuration {
	c.pending.Enabled[t] = caps
	return c
}

// Enable adds capabilities to the transport's enabled set.
func (c *Configuration) Enable(t yubikey.Transport, caps Capability) *Configuration {
	return c.SetEnabled(t, c.EnabledCapabilities(t)|caps)
}

// Disable removes capabilities from the transport's enabled set.
func (c *Configuration) Disable(t yubikey.Transport, caps Capability) *Configuration {
	return c.SetEnabled(t, c.EnabledCapabilities(t)&^caps)
}

// SetAutoEjectTimeout sets the CCID auto-eject timeout, in 10s of seconds.
func (c *Configuration) SetAutoEjectTimeout(timeout uint16) *Configuration {
	c.pending.AutoEjectTimeout = &timeout
	return c
}

// SetChallengeResponseTimeout sets the touch timeout for challenge-response,
// in seconds.
func (c *Configuration) SetChallengeResponseTimeout(timeout byte) *Configuration {
	c.pending.ChallengeResponseTimeout = &timeout
	return c
}

// SetDeviceFlags sets the device flags byte.
func (c *Configuration) SetDeviceFlags(flags byte) *Configuration {
	c.pending.DeviceFlags = &flags
	return c
}

// Changes returns the delta to write: pending settings that differ from the
// base snapshot.
func (c *Configuration) Changes() DeviceConfig {
	delta := DeviceConfig{Enabled: make(map[yubikey.Transport]Capability)}
	for t, caps := range c.pending.Enabled {
		base, ok := c.base.EnabledCapabilities(t)
		if !ok || caps != base {
			delta.Enabled[t] = caps
		}
	}
	if c.pending.AutoEjectTimeout != nil && !equalUint16(c.pending.AutoEjectTimeout, c.base.Config.AutoEjectTimeout) {
		delta.AutoEjectTimeout = c.pending.AutoEjectTimeout
	}
	if c.pending.ChallengeResponseTimeout != nil && !equalByte(c.pending.ChallengeResponseTimeout, c.base.Config.ChallengeResponseTimeout) {
		delta.ChallengeResponseTimeout = c.pending.ChallengeResponseTimeout
	}
	if c.pending.DeviceFlags != nil && !equalByte(c.pending.DeviceFlags, c.base.Config.DeviceFlags) {
		delta.DeviceFlags = c.pending.DeviceFlags
	}
	return delta
}

// Apply writes the delta through the session.
func (c *Configuration) Apply(ctx context.Context, s *Session, reboot bool, currentLockCode, newLockCode []byte) error {
	return s.UpdateDeviceConfig(ctx, c.Changes(), reboot, currentLockCode, newLockCode)
}

func equalUint16(a, b *uint16) bool {
	return b != nil && *a == *b
}

func equalByte(a, b *byte) bool {
	return b != nil && *a == *b
}
