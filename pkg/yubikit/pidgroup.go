// Package yubikit enumerates connected YubiKeys and pairs the per-interface
// USB device nodes the operating system exposes back into whole devices.
package yubikit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seagrayinc/yubikit/pkg/management"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

type readInfoFunc func(ctx context.Context, conn yubikey.Connection, pid yubikey.UsbPid) (*management.DeviceInfo, error)

// PidGroup collects the USB device nodes sharing a product ID and resolves
// which nodes belong to the same physical YubiKey. Nodes are matched by
// reading the device info over each node and comparing identity keys, since
// the OS gives no other way to correlate the interfaces of one device.
//
// A PidGroup is a snapshot of one enumeration pass and must only be used from
// a single goroutine.
type PidGroup struct {
	pid          yubikey.UsbPid
	keys         []string
	infos        map[string]*management.DeviceInfo
	resolved     map[string]map[yubikey.ConnectionType]yubikey.UsbDevice
	unresolved   map[yubikey.ConnectionType][]yubikey.UsbDevice
	devCount     map[yubikey.ConnectionType]int
	fingerprints map[string]bool
	readInfo     readInfoFunc
}

// NewPidGroup creates an empty group for one product ID.
func NewPidGroup(pid yubikey.UsbPid) *PidGroup {
	return newPidGroup(pid, ReadInfo)
}

func newPidGroup(pid yubikey.UsbPid, readInfo readInfoFunc) *PidGroup {
	return &PidGroup{
		pid:          pid,
		infos:        make(map[string]*management.DeviceInfo),
		resolved:     make(map[string]map[yubikey.ConnectionType]yubikey.UsbDevice),
		unresolved:   make(map[yubikey.ConnectionType][]yubikey.UsbDevice),
		devCount:     make(map[yubikey.ConnectionType]int),
		fingerprints: make(map[string]bool),
		readInfo:     readInfo,
	}
}

// Pid returns the product ID shared by all devices in the group.
func (g *PidGroup) Pid() yubikey.UsbPid { return g.pid }

// SupportsConnection reports whether the product ID exposes the USB interface
// the connection type needs.
func (g *PidGroup) SupportsConnection(ct yubikey.ConnectionType) bool {
	return g.pid.SupportsInterface(ct.UsbInterface())
}

// Add registers a device node found during enumeration. The node is probed
// immediately if forceResolve is set, or while the number of distinct devices
// seen so far is below the node count for some connection type. Otherwise the
// probe is deferred until a connection is requested.
func (g *PidGroup) Add(ctx context.Context, ct yubikey.ConnectionType, device yubikey.UsbDevice, forceResolve bool) {
	g.fingerprints[device.Fingerprint()] = true
	g.devCount[ct]++

	if forceResolve || len(g.infos) < g.maxDevCount() {
		conn, err := device.OpenConnection(ct)
		if err == nil {
			_, err = g.resolveDevice(ctx, device, ct, conn)
			conn.Close()
			if err == nil {
				return
			}
		}
		slog.Debug("couldn't resolve device, deferring until requested",
			slog.String("pid", g.pid.String()),
			slog.String("connection", ct.String()),
			slog.Any("error", err))
	}
	g.unresolved[ct] = append(g.unresolved[ct], device)
}

// HasFingerprint reports whether a node with the given fingerprint has been
// added to the group.
func (g *PidGroup) HasFingerprint(fingerprint string) bool {
	return g.fingerprints[fingerprint]
}

func (g *PidGroup) maxDevCount() int {
	max := 0
	for _, n := range g.devCount {
		if n > max {
			max = n
		}
	}
	return max
}

// resolveDevice reads the device info over an open connection and files the
// node under the device's identity key.
func (g *PidGroup) resolveDevice(ctx context.Context, device yubikey.UsbDevice, ct yubikey.ConnectionType, conn yubikey.Connection) (string, error) {
	info, err := g.readInfoOn(ctx, conn)
	if err != nil {
		return "", err
	}
	key := buildKey(info)
	if _, ok := g.infos[key]; !ok {
		g.keys = append(g.keys, key)
		g.infos[key] = info
	}
	nodes, ok := g.resolved[key]
	if !ok {
		nodes = make(map[yubikey.ConnectionType]yubikey.UsbDevice)
		g.resolved[key] = nodes
	}
	nodes[ct] = device
	slog.Debug("resolved device node",
		slog.String("pid", g.pid.String()),
		slog.String("connection", ct.String()),
		slog.Uint64("serial", uint64(info.Serial)))
	return key, nil
}

func (g *PidGroup) readInfoOn(ctx context.Context, conn yubikey.Connection) (*management.DeviceInfo, error) {
	if g.readInfo != nil {
		return g.readInfo(ctx, conn, g.pid)
	}
	return ReadInfo(ctx, conn, g.pid)
}

// OpenConnection opens a connection of the given type to the device with the
// given identity key. If the right node is already known the connection opens
// directly; otherwise the unresolved nodes are probed in order until the key
// matches. Nodes that fail to open or resolve are kept for later attempts.
func (g *PidGroup) OpenConnection(ctx context.Context, key string, ct yubikey.ConnectionType) (yubikey.Connection, error) {
	if device, ok := g.resolved[key][ct]; ok {
		return device.OpenConnection(ct)
	}

	candidates := g.unresolved[ct]
	delete(g.unresolved, ct)
	var failed []yubikey.UsbDevice
	defer func() {
		if remaining := append(candidates, failed...); len(remaining) > 0 {
			g.unresolved[ct] = remaining
		}
	}()

	for len(candidates) > 0 {
		device := candidates[0]
		candidates = candidates[1:]

		conn, err := device.OpenConnection(ct)
		if err != nil {
			failed = append(failed, device)
			continue
		}
		resolvedKey, err := g.resolveDevice(ctx, device, ct, conn)
		if err != nil {
			conn.Close()
			failed = append(failed, device)
			continue
		}
		if resolvedKey == key {
			return conn, nil
		}
		if g.pid.Type() == yubikey.TypeNEO && len(candidates) == 0 {
			// A NEO's OTP interface doesn't report a serial, so its identity
			// key never matches the one built over CCID. With a single
			// candidate left it has to be the same physical device.
			return conn, nil
		}
		conn.Close()
	}
	return nil, fmt.Errorf("no %s device node found matching the requested device", ct)
}

// Devices returns the resolved devices in the order they were first seen.
func (g *PidGroup) Devices() []*CompositeDevice {
	devices := make([]*CompositeDevice, 0, len(g.keys))
	for _, key := range g.keys {
		devices = append(devices, &CompositeDevice{group: g, key: key, info: g.infos[key]})
	}
	return devices
}

// buildKey derives the identity key a device is recognized by across its
// interfaces. Every field of the device info contributes, so that two devices
// of the same model with no serial still get distinct keys whenever anything
// about them differs.
func buildKey(info *management.DeviceInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%s/%d", info.Serial, info.Version, info.FormFactor)
	for _, t := range []yubikey.Transport{yubikey.TransportUSB, yubikey.TransportNFC} {
		fmt.Fprintf(&b, "/%x", info.Supported[t])
		if enabled, ok := info.Config.Enabled[t]; ok {
			fmt.Fprintf(&b, ":%x", enabled)
		}
	}
	if info.Config.AutoEjectTimeout != nil {
		fmt.Fprintf(&b, "/ae%d", *info.Config.AutoEjectTimeout)
	}
	if info.Config.ChallengeResponseTimeout != nil {
		fmt.Fprintf(&b, "/cr%d", *info.Config.ChallengeResponseTimeout)
	}
	if info.Config.DeviceFlags != nil {
		fmt.Fprintf(&b, "/df%d", *info.Config.DeviceFlags)
	}
	fmt.Fprintf(&b, "/%t/%t/%t", info.IsLocked, info.IsFips, info.IsSky)
	return b.String()
}
