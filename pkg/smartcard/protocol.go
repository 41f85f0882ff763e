// Package smartcard implements the ISO 7816 application protocol used by
// YubiKey smart card applications, over any yubikey.SmartCardConnection.
package smartcard

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const (
	insSelect        = 0xa4
	insSendRemaining = 0xc0

	p1Select = 0x04

	sw1HasMoreData = 0x61
)

// Protocol drives request/response APDU exchanges with a selected
// application, transparently collecting 61xx continuation responses.
type Protocol struct {
	conn yubikey.SmartCardConnection
}

// NewProtocol wraps an open smart card connection.
func NewProtocol(conn yubikey.SmartCardConnection) *Protocol {
	return &Protocol{conn: conn}
}

// Connection returns the underlying connection.
func (p *Protocol) Connection() yubikey.SmartCardConnection {
	return p.conn
}

// Select activates the application identified by aid and returns the select
// response payload. A status word indicating a missing or disabled applet is
// mapped to yubikey.ErrApplicationNotAvailable.
func (p *Protocol) Select(aid []byte) ([]byte, error) {
	resp, err := p.SendAndReceive(Apdu{Ins: insSelect, P1: p1Select, Data: aid})
	if err != nil {
		var apduErr *ApduError
		if errors.As(err, &apduErr) {
			switch apduErr.SW {
			case SwFileNotFound, SwAppletSelectFailed, SwInvalidInstruction, SwWrongParametersP1P2:
				return nil, fmt.Errorf("select %x: %w", aid, yubikey.ErrApplicationNotAvailable)
			}
		}
		return nil, err
	}
	return resp, nil
}

// SendAndReceive transmits the command and returns the full response payload.
// A status word other than 0x9000 is returned as an *ApduError.
func (p *Protocol) SendAndReceive(apdu Apdu) ([]byte, error) {
	cmd, err := apdu.encode()
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	resp, err := p.transmit(cmd)
	if err != nil {
		return nil, err
	}

	for resp[len(resp)-2] == sw1HasMoreData {
		payload.Write(resp[:len(resp)-2])
		resp, err = p.transmit([]byte{0x00, insSendRemaining, 0x00, 0x00})
		if err != nil {
			return nil, err
		}
	}

	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	payload.Write(resp[:len(resp)-2])
	if sw != SwSuccess {
		return nil, &ApduError{SW: sw, Data: payload.Bytes()}
	}
	return payload.Bytes(), nil
}

func (p *Protocol) transmit(cmd []byte) ([]byte, error) {
	slog.Debug("sending APDU", slog.String("bytes", hex.EncodeToString(cmd)))
	resp, err := p.conn.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("transmit failed: %w", err)
	}
	slog.Debug("received APDU response", slog.String("bytes", hex.EncodeToString(resp)))
	if len(resp) < 2 {
		return nil, yubikey.BadResponse("response shorter than status word: %d bytes", len(resp))
	}
	return resp, nil
}
