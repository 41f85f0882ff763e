// Package otp implements the YubiKey OTP (keyboard) HID protocol: commands
// are written as 70-byte frames split over 8-byte feature reports, responses
// are streamed back 7 bytes at a time.
package otp

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

const (
	featureReportSize = 8
	reportDataSize    = featureReportSize - 1 // last byte carries sequence and flags

	slotDataSize = 64
	frameSize    = slotDataSize + 6 // slot byte, CRC16, 3 filler bytes

	slotWriteFlag       = 0x80
	respPendingFlag     = 0x40
	respTimeoutWaitFlag = 0x20
	dummyReportWrite    = 0x8f
	sequenceMask        = 0x1f

	statusOffsetProgSeq = 3
)

// ErrTouchTimeout is returned when the device asked for a touch that never came.
var ErrTouchTimeout = errors.New("timed out waiting for touch")

// Protocol frames slot commands over an open OTP connection.
type Protocol struct {
	conn yubikey.OtpConnection
}

// NewProtocol wraps an open OTP connection.
func NewProtocol(conn yubikey.OtpConnection) *Protocol {
	return &Protocol{conn: conn}
}

// ReadStatus reads the 6-byte status block: firmware version (3 bytes),
// programming sequence number, and touch level (little endian).
func (p *Protocol) ReadStatus() ([]byte, error) {
	report := make([]byte, featureReportSize)
	if err := p.conn.Receive(report); err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	// The first and last bytes of the report are not part of the status.
	return report[1 : featureReportSize-1], nil
}

// SendAndReceive writes payload to the given slot and collects the response.
// For commands that return data the raw response stream is returned; the
// caller validates its CRC against the expected length. For commands that
// only update device state the new 6-byte status block is returned instead.
// The context is honored while waiting for a user touch.
func (p *Protocol) SendAndReceive(ctx context.Context, slot byte, payload []byte) ([]byte, error) {
	if len(payload) > slotDataSize {
		return nil, fmt.Errorf("payload too large for slot command: %d bytes", len(payload))
	}
	padded := make([]byte, slotDataSize)
	copy(padded, payload)

	status, err := p.ReadStatus()
	if err != nil {
		return nil, err
	}
	pgmSeqBefore := status[statusOffsetProgSeq]

	slog.Debug("sending slot command",
		slog.String("slot", hex.EncodeToString([]byte{slot})),
		slog.String("payload", hex.EncodeToString(payload)))

	if err := p.sendFrame(slot, padded); err != nil {
		return nil, err
	}
	return p.readFrame(ctx, pgmSeqBefore)
}

// sendFrame splits a command frame over feature reports, skipping all-zero
// packets except the final one.
func (p *Protocol) sendFrame(slot byte, payload []byte) error {
	frame := make([]byte, 0, frameSize)
	frame = append(frame, payload...)
	frame = append(frame, slot)
	crc := CalculateCrc(payload)
	frame = append(frame, byte(crc), byte(crc>>8))
	frame = append(frame, 0, 0, 0)

	lastSeq := frameSize/reportDataSize - 1
	for seq := 0; seq <= lastSeq; seq++ {
		part := frame[seq*reportDataSize : (seq+1)*reportDataSize]
		if !bytes.Equal(part, make([]byte, reportDataSize)) || seq == lastSeq {
			report := make([]byte, featureReportSize)
			copy(report, part)
			report[featureReportSize-1] = slotWriteFlag | byte(seq)
			if err := p.sendReport(report); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendReport waits for the device to be ready, then writes one feature report.
func (p *Protocol) sendReport(report []byte) error {
	for i := 0; ; i++ {
		buf := make([]byte, featureReportSize)
		if err := p.conn.Receive(buf); err != nil {
			return err
		}
		if buf[featureReportSize-1]&slotWriteFlag == 0 {
			break
		}
		if i >= 20 {
			return errors.New("timeout waiting for device to be ready to receive")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := p.conn.Send(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// resetState tells the device to discard any unread response bytes.
func (p *Protocol) resetState() error {
	report := make([]byte, featureReportSize)
	report[featureReportSize-1] = dummyReportWrite
	return p.conn.Send(report)
}

func (p *Protocol) readFrame(ctx context.Context, pgmSeqBefore byte) ([]byte, error) {
	var stream bytes.Buffer
	var nextSeq byte
	needsTouch := false

	for {
		report := make([]byte, featureReportSize)
		if err := p.conn.Receive(report); err != nil {
			return nil, err
		}
		statusByte := report[featureReportSize-1]

		switch {
		case statusByte&respPendingFlag != 0:
			seq := statusByte & sequenceMask
			if seq == nextSeq {
				stream.Write(report[:reportDataSize])
				nextSeq++
			} else if seq == 0 {
				// Sequence wrapped back to zero: transmission complete.
				if err := p.resetState(); err != nil {
					return nil, err
				}
				return stream.Bytes(), nil
			}

		case statusByte&respTimeoutWaitFlag != 0:
			needsTouch = true
			select {
			case <-ctx.Done():
				_ = p.resetState()
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}

		case nextSeq > 0:
			return nil, yubikey.BadResponse("incomplete slot response transfer")

		default:
			// No response data: the command may have updated device state.
			status := report[1 : featureReportSize-1]
			if status[statusOffsetProgSeq] == pgmSeqBefore+1 {
				return status, nil
			}
			if needsTouch {
				return nil, ErrTouchTimeout
			}
			return nil, yubikey.BadResponse("slot command returned no data")
		}
	}
}
