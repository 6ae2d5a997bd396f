// Package bundle carries a message plus its delivery metadata through the
// internal queue as a single base64 text value.
//
// Layout, big-endian, every variable field behind a 4-byte length where a
// length of 0 means absent:
//
//	[len][receipt id]
//	[len][destination host]
//	[4: destination port, signed]
//	[1: from forwarder, 0|1]
//	[len][certificate]
//	[len][payload]
//
// A legacy producer format (receipt id prefix, see PrependReceiptID) is
// handled by Unwrap. The two formats are not self-describing; the caller
// knows which producer emitted a value.
package bundle

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidParameters = errors.New("invalid bundle parameters")
	ErrTruncatedBuffer   = errors.New("truncated bundle buffer")
	ErrMalformedBase64   = errors.New("malformed base64 bundle")
	ErrEmptyPayload      = errors.New("bundle payload is empty")
)

// WireBundle is a payload plus its delivery metadata
type WireBundle struct {
	ReceiptID     string
	DestHost      string // "" when absent
	DestPort      int32
	FromForwarder bool
	Certificate   []byte // nil when absent
	Payload       []byte
}

// New builds a bundle for delivery to destHost:destPort.
// An empty receiptID is replaced with a random UUID.
func New(receiptID, destHost string, destPort int32, fromForwarder bool, certificate, payload []byte) (*WireBundle, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidParameters)
	}
	if destHost == "" {
		return nil, fmt.Errorf("%w: destination host is empty", ErrInvalidParameters)
	}
	if receiptID == "" {
		receiptID = uuid.NewString()
	}
	return &WireBundle{
		ReceiptID:     receiptID,
		DestHost:      destHost,
		DestPort:      destPort,
		FromForwarder: fromForwarder,
		Certificate:   certificate,
		Payload:       payload,
	}, nil
}

// Marshal returns the binary layout before base64. The payload and the
// destination host must be set; Unmarshal still accepts an empty host.
func (b *WireBundle) Marshal() ([]byte, error) {
	if len(b.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidParameters)
	}
	if b.DestHost == "" {
		return nil, fmt.Errorf("%w: destination host is empty", ErrInvalidParameters)
	}

	size := 4 + len(b.ReceiptID) + 4 + len(b.DestHost) + 4 + 1 + 4 + len(b.Certificate) + 4 + len(b.Payload)
	buf := make([]byte, 0, size)
	buf = appendField(buf, []byte(b.ReceiptID))
	buf = appendField(buf, []byte(b.DestHost))
	buf = binary.BigEndian.AppendUint32(buf, uint32(b.DestPort))
	if b.FromForwarder {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendField(buf, b.Certificate)
	buf = appendField(buf, b.Payload)
	return buf, nil
}

// Encode returns the queue value: the binary layout in standard base64.
// Encoding the same bundle twice yields the same string.
func (b *WireBundle) Encode() (string, error) {
	raw, err := b.Marshal()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodePayload returns the payload alone in standard base64
func (b *WireBundle) EncodePayload() string {
	return base64.StdEncoding.EncodeToString(b.Payload)
}

// Decode parses a queue value produced by Encode
func Decode(s string) (*WireBundle, error) {
	raw, err := decodeBase64(s)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// Unmarshal parses the binary layout. Bytes after the payload are ignored.
func Unmarshal(raw []byte) (*WireBundle, error) {
	r := &reader{buf: raw}
	receiptID := r.field("receipt id")
	destHost := r.field("destination host")
	destPort := r.u32("destination port")
	fromForwarder := r.u8("from forwarder flag")
	certificate := r.field("certificate")
	payload := r.field("payload")
	if r.err != nil {
		return nil, r.err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	return &WireBundle{
		ReceiptID:     string(receiptID),
		DestHost:      string(destHost),
		DestPort:      int32(destPort),
		FromForwarder: fromForwarder == 1,
		Certificate:   certificate,
		Payload:       payload,
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBase64, err)
	}
	return raw, nil
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

type reader struct {
	buf    []byte
	offset int
	err    error
}

func (r *reader) need(n uint64, what string) bool {
	if r.err != nil {
		return false
	}
	if remaining := uint64(len(r.buf) - r.offset); remaining < n {
		r.err = fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncatedBuffer, what, n, remaining)
		return false
	}
	return true
}

func (r *reader) u8(what string) uint8 {
	if !r.need(1, what) {
		return 0
	}
	v := r.buf[r.offset]
	r.offset++
	return v
}

func (r *reader) u32(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v
}

// field reads a length-prefixed field; a zero length yields nil
func (r *reader) field(what string) []byte {
	n := r.u32(what + " length")
	if n == 0 || !r.need(uint64(n), what) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.offset:])
	r.offset += int(n)
	return out
}
