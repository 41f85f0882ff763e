// Package tlv implements the BER-TLV subset used by YubiKey applications:
// one or two byte tags and short or long form lengths up to 16 bits.
package tlv

import (
	"bytes"
	"fmt"
)

// Tlv is a single tag-length-value record.
type Tlv struct {
	Tag   int
	Value []byte
}

// Encode serializes a single TLV record.
func Encode(tag int, value []byte) []byte {
	var buf bytes.Buffer
	if tag > 0xff {
		buf.WriteByte(byte(tag >> 8))
	}
	buf.WriteByte(byte(tag))
	n := len(value)
	switch {
	case n < 0x80:
		buf.WriteByte(byte(n))
	case n < 0x100:
		buf.WriteByte(0x81)
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0x82)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	}
	buf.Write(value)
	return buf.Bytes()
}

// EncodeList serializes records in order.
func EncodeList(tlvs []Tlv) []byte {
	var buf bytes.Buffer
	for _, t := range tlvs {
		buf.Write(Encode(t.Tag, t.Value))
	}
	return buf.Bytes()
}

// DecodeList parses a sequence of TLV records, consuming all of data.
func DecodeList(data []byte) ([]Tlv, error) {
	var tlvs []Tlv
	for len(data) > 0 {
		t, rest, err := decodeOne(data)
		if err != nil {
			return nil, err
		}
		tlvs = append(tlvs, t)
		data = rest
	}
	return tlvs, nil
}

// DecodeMap parses a sequence of TLV records into a tag-keyed map. If a tag
// repeats, the last value wins.
func DecodeMap(data []byte) (map[int][]byte, error) {
	tlvs, err := DecodeList(data)
	if err != nil {
		return nil, err
	}
	m := make(map[int][]byte, len(tlvs))
	for _, t := range tlvs {
		m[t.Tag] = t.Value
	}
	return m, nil
}

// Unpack decodes a single TLV record, requiring the expected tag and no
// trailing bytes.
func Unpack(tag int, data []byte) ([]byte, error) {
	t, rest, err := decodeOne(data)
	if err != nil {
		return nil, err
	}
	if t.Tag != tag {
		return nil, fmt.Errorf("expected tag %02x, got %02x", tag, t.Tag)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d unexpected trailing bytes after tag %02x", len(rest), tag)
	}
	return t.Value, nil
}

func decodeOne(data []byte) (Tlv, []byte, error) {
	if len(data) == 0 {
		return Tlv{}, nil, fmt.Errorf("empty TLV data")
	}
	tag := int(data[0])
	offset := 1
	if tag&0x1f == 0x1f {
		if len(data) < 2 {
			return Tlv{}, nil, fmt.Errorf("truncated two-byte tag")
		}
		tag = tag<<8 | int(data[1])
		offset = 2
	}
	if len(data) <= offset {
		return Tlv{}, nil, fmt.Errorf("missing length for tag %02x", tag)
	}
	length := int(data[offset])
	offset++
	switch {
	case length < 0x80:
	case length == 0x81:
		if len(data) <= offset {
			return Tlv{}, nil, fmt.Errorf("truncated length for tag %02x", tag)
		}
		length = int(data[offset])
		offset++
	case length == 0x82:
		if len(data) < offset+2 {
			return Tlv{}, nil, fmt.Errorf("truncated length for tag %02x", tag)
		}
		length = int(data[offset])<<8 | int(data[offset+1])
		offset += 2
	default:
		return Tlv{}, nil, fmt.Errorf("unsupported length form %02x for tag %02x", length, tag)
	}
	if len(data) < offset+length {
		return Tlv{}, nil, fmt.Errorf("value truncated for tag %02x: want %d bytes, have %d", tag, length, len(data)-offset)
	}
	return Tlv{Tag: tag, Value: data[offset : offset+length]}, data[offset+length:], nil
}
