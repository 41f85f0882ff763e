package yubikit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

var (
	// ErrNoDevice is returned when no connected YubiKey matches.
	ErrNoDevice = errors.New("no YubiKey found")
	// ErrMultipleDevices is returned when a single device is required but
	// several are connected.
	ErrMultipleDevices = errors.New("multiple YubiKeys found")
)

// SmartCardSource lists the YubiKey CCID device nodes currently attached
// over USB.
type SmartCardSource interface {
	SmartCardDevices() ([]yubikey.UsbDevice, error)
}

// HidSource lists the YubiKey HID device nodes currently attached, split by
// usage page.
type HidSource interface {
	OtpDevices() ([]yubikey.UsbDevice, error)
	FidoDevices() ([]yubikey.UsbDevice, error)
}

// allConnectionTypes is the enumeration order; CCID first since it resolves
// devices with the fewest fallbacks.
var allConnectionTypes = []yubikey.ConnectionType{
	yubikey.ConnectionSmartCard,
	yubikey.ConnectionOTP,
	yubikey.ConnectionFIDO,
}

// Manager enumerates connected YubiKeys and opens connections to them.
type Manager struct {
	smartCard SmartCardSource
	hid       HidSource
	readInfo  readInfoFunc
}

// NewManager creates a Manager over the given device sources. Either source
// may be nil, in which case its connection types are skipped.
func NewManager(smartCard SmartCardSource, hid HidSource) *Manager {
	return &Manager{smartCard: smartCard, hid: hid, readInfo: ReadInfo}
}

func (m *Manager) devicesFor(ct yubikey.ConnectionType) ([]yubikey.UsbDevice, error) {
	switch ct {
	case yubikey.ConnectionSmartCard:
		if m.smartCard == nil {
			return nil, nil
		}
		return m.smartCard.SmartCardDevices()
	case yubikey.ConnectionOTP:
		if m.hid == nil {
			return nil, nil
		}
		return m.hid.OtpDevices()
	case yubikey.ConnectionFIDO:
		if m.hid == nil {
			return nil, nil
		}
		return m.hid.FidoDevices()
	default:
		return nil, fmt.Errorf("unknown connection type %s", ct)
	}
}

// ListAllDevices enumerates the connected YubiKeys over the given connection
// types (all types if none are given), resolving which device nodes belong
// together. The returned devices are a snapshot; unplugging or replugging a
// device invalidates it.
func (m *Manager) ListAllDevices(ctx context.Context, types ...yubikey.ConnectionType) ([]*CompositeDevice, error) {
	if len(types) == 0 {
		types = allConnectionTypes
	}

	var order []yubikey.UsbPid
	groups := make(map[yubikey.UsbPid]*PidGroup)
	for _, ct := range allConnectionTypes {
		if !containsType(types, ct) {
			continue
		}
		nodes, err := m.devicesFor(ct)
		if err != nil {
			// One missing subsystem (no pcscd, say) shouldn't hide the
			// devices the others can see.
			slog.Warn("device enumeration failed",
				slog.String("connection", ct.String()),
				slog.Any("error", err))
			continue
		}
		for _, node := range nodes {
			group, ok := groups[node.Pid()]
			if !ok {
				group = newPidGroup(node.Pid(), m.readInfo)
				groups[node.Pid()] = group
				order = append(order, node.Pid())
			}
			group.Add(ctx, ct, node, false)
		}
	}

	var devices []*CompositeDevice
	for _, pid := range order {
		devices = append(devices, groups[pid].Devices()...)
	}
	return devices, nil
}

// ListDeviceRecords enumerates connected YubiKeys and returns them with
// selectors, sorted by serial number with serial-less devices last.
func (m *Manager) ListDeviceRecords(ctx context.Context, types ...yubikey.ConnectionType) ([]*DeviceRecord, error) {
	devices, err := m.ListAllDevices(ctx, types...)
	if err != nil {
		return nil, err
	}

	records := make([]*DeviceRecord, 0, len(devices))
	for _, device := range devices {
		selector := Selector{Fingerprint: device.key}
		if serial := device.Info().Serial; serial != 0 {
			selector = BySerial(serial)
		}
		records = append(records, &DeviceRecord{
			Device:   device,
			Info:     device.Info(),
			Selector: selector,
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch {
		case a.Info.Serial != 0 && b.Info.Serial != 0:
			return a.Info.Serial < b.Info.Serial
		case a.Info.Serial != b.Info.Serial:
			return a.Info.Serial != 0
		default:
			return a.Selector.Fingerprint < b.Selector.Fingerprint
		}
	})
	return records, nil
}

// OpenConnection opens a connection of the given type to the device the
// selector identifies. Returns ErrNoDevice if nothing matches and
// ErrMultipleDevices if the selector is ambiguous.
func (m *Manager) OpenConnection(ctx context.Context, selector Selector, ct yubikey.ConnectionType) (yubikey.Connection, error) {
	records, err := m.ListDeviceRecords(ctx, ct)
	if err != nil {
		return nil, err
	}

	var match *DeviceRecord
	for _, record := range records {
		if !selector.Matches(record.Info, record.Device.key) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w matching %s", ErrMultipleDevices, selector)
		}
		match = record
	}
	if match == nil {
		return nil, fmt.Errorf("%w matching %s", ErrNoDevice, selector)
	}
	return match.Device.OpenConnectionContext(ctx, ct)
}

// RequireSingleDevice enumerates devices and returns the one connected
// YubiKey, or an error naming the candidates when there is more or less
// than one.
func (m *Manager) RequireSingleDevice(ctx context.Context, types ...yubikey.ConnectionType) (*DeviceRecord, error) {
	records, err := m.ListDeviceRecords(ctx, types...)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return records[0], nil
	default:
		names := make([]string, 0, len(records))
		for _, record := range records {
			names = append(names, fmt.Sprintf("%s (%s)", record.Name(), record.Selector))
		}
		return nil, fmt.Errorf("%w: %v", ErrMultipleDevices, names)
	}
}

func containsType(types []yubikey.ConnectionType, ct yubikey.ConnectionType) bool {
	for _, t := range types {
		if t == ct {
			return true
		}
	}
	return false
}
