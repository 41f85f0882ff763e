package fido

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const ctapGetInfo = 0x04

// Info is the CTAP2 authenticatorGetInfo response.
type Info struct {
	Versions     []string        `cbor:"1,keyasint"`
	Extensions   []string        `cbor:"2,keyasint,omitempty"`
	AAGUID       []byte          `cbor:"3,keyasint"`
	Options      map[string]bool `cbor:"4,keyasint,omitempty"`
	MaxMsgSize   uint64          `cbor:"5,keyasint,omitempty"`
	PinProtocols []uint64        `cbor:"6,keyasint,omitempty"`
}

// GetInfo issues authenticatorGetInfo over CTAPHID_CBOR.
func (p *Protocol) GetInfo(ctx context.Context) (*Info, error) {
	resp, err := p.SendAndReceive(ctx, CmdCbor, []byte{ctapGetInfo})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, yubikey.BadResponse("empty CBOR response")
	}
	if resp[0] != 0x00 {
		return nil, &CtapError{Code: resp[0]}
	}
	var info Info
	if err := cbor.Unmarshal(resp[1:], &info); err != nil {
		return nil, yubikey.BadResponse("decoding GetInfo response: %v", err)
	}
	return &info, nil
}
