// Package fido implements the CTAPHID transport used by the YubiKey FIDO
// interface, including the Yubico vendor commands, and CTAP2 GetInfo.
package fido

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const (
	typeInit = 0x80

	CmdPing      = typeInit | 0x01
	CmdInit      = typeInit | 0x06
	CmdWink      = typeInit | 0x08
	CmdCbor      = typeInit | 0x10
	CmdCancel    = typeInit | 0x11
	CmdKeepalive = typeInit | 0x3b
	CmdError     = typeInit | 0x3f

	// Yubico vendor commands.
	CmdSetMode     = typeInit | 0x40
	CmdReadConfig  = typeInit | 0x42
	CmdWriteConfig = typeInit | 0x43

	broadcastCid = 0xffffffff
)

// CtapError is an error frame returned by the authenticator.
type CtapError struct {
	Code byte
}

func (e *CtapError) Error() string {
	return fmt.Sprintf("CTAP error: 0x%02x", e.Code)
}

// Protocol is a CTAPHID channel to a single FIDO device.
type Protocol struct {
	conn    yubikey.FidoConnection
	cid     uint32
	version yubikey.Version
}

// NewProtocol allocates a channel on the device by issuing CTAPHID_INIT on
// the broadcast channel.
func NewProtocol(conn yubikey.FidoConnection) (*Protocol, error) {
	p := &Protocol{conn: conn, cid: broadcastCid}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	resp, err := p.SendAndReceive(context.Background(), CmdInit, nonce)
	if err != nil {
		return nil, fmt.Errorf("CTAPHID INIT failed: %w", err)
	}
	if len(resp) < 17 {
		return nil, yubikey.BadResponse("INIT response too short: %d bytes", len(resp))
	}
	if !bytes.Equal(resp[:8], nonce) {
		return nil, yubikey.BadResponse("INIT nonce mismatch")
	}
	p.cid = binary.BigEndian.Uint32(resp[8:12])
	p.version = yubikey.Version{Major: resp[13], Minor: resp[14], Micro: resp[15]}
	slog.Debug("CTAPHID channel allocated",
		slog.String("cid", fmt.Sprintf("%08x", p.cid)),
		slog.String("version", p.version.String()))
	return p, nil
}

// Version returns the device version reported by CTAPHID_INIT.
func (p *Protocol) Version() yubikey.Version {
	return p.version
}

// SendAndReceive performs one request/response exchange on the channel.
// Keepalive frames are consumed while waiting; if ctx is canceled during the
// wait, CTAPHID_CANCEL is sent and ctx.Err() returned.
func (p *Protocol) SendAndReceive(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	if err := p.sendRequest(cmd, payload); err != nil {
		return nil, err
	}
	return p.readResponse(ctx, cmd)
}

func (p *Protocol) sendRequest(cmd byte, payload []byte) error {
	size := p.conn.PacketSize()
	if len(payload) > 0xffff {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	slog.Debug("sending CTAPHID request",
		slog.String("cmd", hex.EncodeToString([]byte{cmd})),
		slog.Int("len", len(payload)))

	packet := make([]byte, size)
	binary.BigEndian.PutUint32(packet, p.cid)
	packet[4] = cmd
	binary.BigEndian.PutUint16(packet[5:], uint16(len(payload)))
	offset := copy(packet[7:], payload)
	if err := p.conn.SendPacket(packet); err != nil {
		return err
	}

	for seq := byte(0); offset < len(payload); seq++ {
		packet = make([]byte, size)
		binary.BigEndian.PutUint32(packet, p.cid)
		packet[4] = seq
		offset += copy(packet[5:], payload[offset:])
		if err := p.conn.SendPacket(packet); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) readResponse(ctx context.Context, cmd byte) ([]byte, error) {
	size := p.conn.PacketSize()
	packet := make([]byte, size)

	// First packet, skipping keepalives and frames for other channels.
	var total int
	var payload bytes.Buffer
	for {
		if err := p.conn.ReceivePacket(packet); err != nil {
			return nil, err
		}
		cid := binary.BigEndian.Uint32(packet)
		if cid != p.cid {
			continue
		}
		respCmd := packet[4]
		if respCmd == CmdKeepalive {
			select {
			case <-ctx.Done():
				if err := p.sendRequest(CmdCancel, nil); err != nil {
					return nil, err
				}
				return nil, ctx.Err()
			default:
			}
			continue
		}
		if respCmd == CmdError {
			return nil, &CtapError{Code: packet[7]}
		}
		if respCmd != cmd {
			return nil, yubikey.BadResponse("unexpected response command: %02x", respCmd)
		}
		total = int(binary.BigEndian.Uint16(packet[5:]))
		payload.Write(packet[7:])
		break
	}

	// Continuation packets.
	for seq := byte(0); payload.Len() < total; {
		if err := p.conn.ReceivePacket(packet); err != nil {
			return nil, err
		}
		if binary.BigEndian.Uint32(packet) != p.cid {
			continue
		}
		if packet[4] != seq {
			return nil, yubikey.BadResponse("packet out of sequence: got %02x, want %02x", packet[4], seq)
		}
		payload.Write(packet[5:])
		seq++
	}
	return payload.Bytes()[:total], nil
}
