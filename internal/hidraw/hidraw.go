// Package hidraw enumerates and opens the HID interfaces of connected
// YubiKeys. The OTP (keyboard) and FIDO interfaces of one device show up as
// separate HID nodes; they are told apart by usage page.
package hidraw

import (
	"fmt"
	"log/slog"

	"github.com/sstallion/go-hid"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const (
	usagePageOTP  = 0x0001
	usagePageFIDO = 0xf1d0
)

// Source lists YubiKey HID device nodes.
type Source struct{}

// NewSource returns a HID device source.
func NewSource() *Source {
	return &Source{}
}

// OtpDevices lists the keyboard interface nodes of connected YubiKeys.
func (s *Source) OtpDevices() ([]yubikey.UsbDevice, error) {
	return s.devices(usagePageOTP)
}

// FidoDevices lists the FIDO interface nodes of connected YubiKeys.
func (s *Source) FidoDevices() ([]yubikey.UsbDevice, error) {
	return s.devices(usagePageFIDO)
}

func (s *Source) devices(usagePage uint16) ([]yubikey.UsbDevice, error) {
	var nodes []yubikey.UsbDevice
	err := hid.Enumerate(yubikey.VendorYubico, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.UsagePage != usagePage {
			return nil
		}
		pid, err := yubikey.PidFromValue(info.ProductID)
		if err != nil {
			slog.Debug("skipping device with unknown product ID",
				slog.String("path", info.Path),
				slog.Any("error", err))
			return nil
		}
		nodes = append(nodes, &deviceNode{path: info.Path, pid: pid, usagePage: usagePage})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("HID enumeration failed: %w", err)
	}
	return nodes, nil
}

// deviceNode is a single HID interface of a YubiKey.
type deviceNode struct {
	path      string
	pid       yubikey.UsbPid
	usagePage uint16
}

func (d *deviceNode) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (d *deviceNode) Pid() yubikey.UsbPid          { return d.pid }

// Fingerprint returns the platform device path, stable while the device
// stays plugged in.
func (d *deviceNode) Fingerprint() string { return d.path }

func (d *deviceNode) SupportsConnection(ct yubikey.ConnectionType) bool {
	switch ct {
	case yubikey.ConnectionOTP:
		return d.usagePage == usagePageOTP
	case yubikey.ConnectionFIDO:
		return d.usagePage == usagePageFIDO
	default:
		return false
	}
}

func (d *deviceNode) OpenConnection(ct yubikey.ConnectionType) (yubikey.Connection, error) {
	if !d.SupportsConnection(ct) {
		return nil, fmt.Errorf("%s node can't open a %s connection", d.path, ct)
	}
	dev, err := hid.OpenPath(d.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.path, err)
	}
	if ct == yubikey.ConnectionOTP {
		return &otpConnection{dev: dev}, nil
	}
	return &fidoConnection{dev: dev}, nil
}

// otpConnection exchanges feature reports with the keyboard interface. The
// reports are unnumbered; hidapi wants a leading zero report ID byte.
type otpConnection struct {
	dev *hid.Device
}

func (c *otpConnection) Transport() yubikey.Transport { return yubikey.TransportUSB }

func (c *otpConnection) Receive(report []byte) error {
	buf := make([]byte, len(report)+1)
	if _, err := c.dev.GetFeatureReport(buf); err != nil {
		return err
	}
	copy(report, buf[1:])
	return nil
}

func (c *otpConnection) Send(report []byte) error {
	buf := make([]byte, len(report)+1)
	copy(buf[1:], report)
	_, err := c.dev.SendFeatureReport(buf)
	return err
}

func (c *otpConnection) Close() error {
	return c.dev.Close()
}

const fidoPacketSize = 64

// fidoConnection exchanges CTAPHID packets with the FIDO interface.
type fidoConnection struct {
	dev *hid.Device
}

func (c *fidoConnection) Transport() yubikey.Transport { return yubikey.TransportUSB }

func (c *fidoConnection) PacketSize() int { return fidoPacketSize }

func (c *fidoConnection) SendPacket(packet []byte) error {
	buf := make([]byte, len(packet)+1)
	copy(buf[1:], packet)
	_, err := c.dev.Write(buf)
	return err
}

func (c *fidoConnection) ReceivePacket(packet []byte) error {
	_, err := c.dev.Read(packet)
	return err
}

func (c *fidoConnection) Close() error {
	return c.dev.Close()
}
