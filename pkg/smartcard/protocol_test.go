package smartcard

import (
	"bytes"
	"errors"
	"testing"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// mockConnection replays canned responses and records transmitted commands.
type mockConnection struct {
	sent      [][]byte
	responses [][]byte
}

func (m *mockConnection) Transmit(cmd []byte) ([]byte, error) {
	m.sent = append(m.sent, append([]byte(nil), cmd...))
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockConnection) Transport() yubikey.Transport { return yubikey.TransportUSB }
func (m *mockConnection) Close() error                 { return nil }

func TestSelectEncodesApdu(t *testing.T) {
	conn := &mockConnection{responses: [][]byte{{0x04, 0x05, 0x02, 0x04, 0x90, 0x00}}}
	p := NewProtocol(conn)

	aid := []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x47, 0x11, 0x17}
	resp, err := p.Select(aid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte{0x04, 0x05, 0x02, 0x04}) {
		t.Errorf("response = % x", resp)
	}

	want := append([]byte{0x00, 0xa4, 0x04, 0x00, 0x08}, aid...)
	if !bytes.Equal(conn.sent[0], want) {
		t.Errorf("sent % x, want % x", conn.sent[0], want)
	}
}

func TestSelectApplicationNotAvailable(t *testing.T) {
	for _, sw := range [][]byte{{0x6a, 0x82}, {0x69, 0x99}, {0x6d, 0x00}, {0x6b, 0x00}} {
		conn := &mockConnection{responses: [][]byte{sw}}
		_, err := NewProtocol(conn).Select([]byte{0xa0, 0x00})
		if !errors.Is(err, yubikey.ErrApplicationNotAvailable) {
			t.Errorf("SW % x: got %v, want ErrApplicationNotAvailable", sw, err)
		}
	}
}

func TestSendAndReceiveContinuation(t *testing.T) {
	conn := &mockConnection{responses: [][]byte{
		{0x01, 0x02, 0x61, 0x10},
		{0x03, 0x04, 0x61, 0x02},
		{0x05, 0x90, 0x00},
	}}
	p := NewProtocol(conn)

	resp, err := p.SendAndReceive(Apdu{Ins: 0x1d})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte{0x01, 0x02, 0x03, 0x04, 0x05}) {
		t.Errorf("response = % x", resp)
	}

	// Continuations are fetched with SEND_REMAINING.
	if len(conn.sent) != 3 {
		t.Fatalf("sent %d commands", len(conn.sent))
	}
	if !bytes.Equal(conn.sent[1], []byte{0x00, 0xc0, 0x00, 0x00}) {
		t.Errorf("continuation command = % x", conn.sent[1])
	}
}

func TestSendAndReceiveApduError(t *testing.T) {
	conn := &mockConnection{responses: [][]byte{{0x69, 0x85}}}
	_, err := NewProtocol(conn).SendAndReceive(Apdu{Ins: 0x1c, Data: []byte{0x01}})

	var apduErr *ApduError
	if !errors.As(err, &apduErr) {
		t.Fatalf("got %v, want ApduError", err)
	}
	if apduErr.SW != SwConditionsNotSatisfied {
		t.Errorf("SW = %04x", apduErr.SW)
	}
}

func TestSendAndReceiveShortResponse(t *testing.T) {
	conn := &mockConnection{responses: [][]byte{{0x90}}}
	_, err := NewProtocol(conn).SendAndReceive(Apdu{Ins: 0x1d})

	var badResp *yubikey.BadResponseError
	if !errors.As(err, &badResp) {
		t.Errorf("got %v, want BadResponseError", err)
	}
}

func TestApduDataTooLong(t *testing.T) {
	conn := &mockConnection{}
	_, err := NewProtocol(conn).SendAndReceive(Apdu{Ins: 0x1c, Data: make([]byte, 256)})
	if err == nil {
		t.Error("expected error for oversized data")
	}
}
