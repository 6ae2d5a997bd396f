package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrEncodeFailed = errors.New("message encode failed")
	ErrDecodeFailed = errors.New("message decode failed")
)

// Codec turns dialog messages into datagram payloads and back.
// Decode returns the concrete message; callers must check its type.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

// BinaryCodec frames each message body behind a Header
type BinaryCodec struct{}

// NewBinaryCodec returns the default codec
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{}
}

// Encode encodes msg with its header
func (BinaryCodec) Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrEncodeFailed)
	}
	if newMessage(msg.Type()) == nil {
		return nil, fmt.Errorf("%w: unknown message type 0x%04x", ErrEncodeFailed, msg.Type())
	}

	body := msg.Encode()
	header := &Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Type:    msg.Type(),
		Length:  uint32(len(body)),
	}

	buf := make([]byte, 0, HeaderSize+len(body))
	buf = append(buf, header.Encode()...)
	buf = append(buf, body...)
	return buf, nil
}

// Decode decodes a framed message
func (BinaryCodec) Decode(data []byte) (Message, error) {
	header := &Header{}
	if err := header.Decode(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if err := header.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	body := data[HeaderSize:]
	if uint64(header.Length) != uint64(len(body)) {
		return nil, fmt.Errorf("%w: header length %d, body length %d", ErrDecodeFailed, header.Length, len(body))
	}

	msg := newMessage(header.Type)
	if msg == nil {
		return nil, fmt.Errorf("%w: unknown message type 0x%04x", ErrDecodeFailed, header.Type)
	}
	if err := msg.Decode(body); err != nil {
		return nil, err
	}
	return msg, nil
}
