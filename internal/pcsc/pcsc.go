// Package pcsc enumerates and opens the smart card interfaces of connected
// YubiKeys through PC/SC. The product ID is reconstructed from the reader
// name, since PC/SC doesn't expose USB descriptors.
package pcsc

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ebfe/scard"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// Source lists YubiKey smart card readers.
type Source struct{}

// NewSource returns a PC/SC device source.
func NewSource() *Source {
	return &Source{}
}

// SmartCardDevices lists the CCID interface nodes of YubiKeys attached over
// USB. Readers whose names don't identify a YubiKey (NFC readers included)
// are skipped.
func (s *Source) SmartCardDevices() ([]yubikey.UsbDevice, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establishing PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		if err == scard.ErrNoReadersAvailable {
			return nil, nil
		}
		return nil, fmt.Errorf("listing readers: %w", err)
	}

	var nodes []yubikey.UsbDevice
	for _, reader := range readers {
		pid, ok := pidFromReaderName(reader)
		if !ok {
			slog.Debug("skipping non-YubiKey reader", slog.String("reader", reader))
			continue
		}
		nodes = append(nodes, &readerNode{name: reader, pid: pid})
	}
	return nodes, nil
}

// pidFromReaderName reconstructs the product ID from the interface names the
// reader advertises, e.g. "Yubico YubiKey OTP+FIDO+CCID 00 00".
func pidFromReaderName(name string) (yubikey.UsbPid, bool) {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "yubikey") {
		return 0, false
	}

	interfaces := 0
	if strings.Contains(lower, "otp") {
		interfaces |= yubikey.UsbInterfaceOTP
	}
	if strings.Contains(lower, "fido") || strings.Contains(lower, "u2f") {
		interfaces |= yubikey.UsbInterfaceFIDO
	}
	if strings.Contains(lower, "ccid") {
		interfaces |= yubikey.UsbInterfaceCCID
	}

	keyType := yubikey.TypeYK4
	if strings.Contains(lower, "neo") {
		keyType = yubikey.TypeNEO
	}

	pid, err := yubikey.PidForTraits(keyType, interfaces)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// readerNode is the CCID interface of a YubiKey, reachable through one
// PC/SC reader.
type readerNode struct {
	name string
	pid  yubikey.UsbPid
}

func (d *readerNode) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (d *readerNode) Pid() yubikey.UsbPid          { return d.pid }

// Fingerprint returns the reader name, stable while the device stays
// plugged in.
func (d *readerNode) Fingerprint() string { return d.name }

func (d *readerNode) SupportsConnection(ct yubikey.ConnectionType) bool {
	return ct == yubikey.ConnectionSmartCard
}

func (d *readerNode) OpenConnection(ct yubikey.ConnectionType) (yubikey.Connection, error) {
	if ct != yubikey.ConnectionSmartCard {
		return nil, fmt.Errorf("reader %q can't open a %s connection", d.name, ct)
	}
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establishing PC/SC context: %w", err)
	}
	card, err := ctx.Connect(d.name, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connecting to %q: %w", d.name, err)
	}
	return &cardConnection{ctx: ctx, card: card}, nil
}

// cardConnection holds an exclusive connection to one reader.
type cardConnection struct {
	ctx  *scard.Context
	card *scard.Card
}

func (c *cardConnection) Transport() yubikey.Transport { return yubikey.TransportUSB }

func (c *cardConnection) Transmit(apdu []byte) ([]byte, error) {
	return c.card.Transmit(apdu)
}

func (c *cardConnection) Close() error {
	err := c.card.Disconnect(scard.LeaveCard)
	if rerr := c.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}
