package security

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SignedVersion is the signed envelope format version
	SignedVersion = 2

	// version(1) + psid(4) + recipient(8) + generated(8) + cert len(2) + payload len(4)
	signedFixedSize = 1 + 4 + 8 + 8 + 2 + 4
)

var ErrMalformedSigned = fmt.Errorf("%w: malformed signed message", ErrCrypto)

// SignedMessage wraps a payload with the signer's certificate and an
// Ed25519 signature over everything before the signature
type SignedMessage struct {
	Version     uint8
	PSID        uint32
	Recipient   CertID8 // Zero when addressed to anyone
	Generated   int64   // Unix milliseconds
	Certificate []byte  // DER
	Payload     []byte
	Signature   []byte
}

// signedBytes returns the bytes covered by the signature
func (m *SignedMessage) signedBytes() []byte {
	buf := make([]byte, signedFixedSize+len(m.Certificate)+len(m.Payload))
	offset := 0

	buf[offset] = m.Version
	offset++

	binary.BigEndian.PutUint32(buf[offset:], m.PSID)
	offset += 4

	copy(buf[offset:], m.Recipient[:])
	offset += 8

	binary.BigEndian.PutUint64(buf[offset:], uint64(m.Generated))
	offset += 8

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(m.Certificate)))
	offset += 2
	copy(buf[offset:], m.Certificate)
	offset += len(m.Certificate)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(m.Payload)))
	offset += 4
	copy(buf[offset:], m.Payload)

	return buf
}

// Encode encodes signed message to bytes
func (m *SignedMessage) Encode() []byte {
	return append(m.signedBytes(), m.Signature...)
}

// Decode decodes signed message from bytes
func (m *SignedMessage) Decode(buf []byte) error {
	if len(buf) < signedFixedSize+ed25519.SignatureSize {
		return ErrMalformedSigned
	}

	offset := 0
	m.Version = buf[offset]
	offset++
	if m.Version != SignedVersion {
		return fmt.Errorf("%w: version %d", ErrMalformedSigned, m.Version)
	}

	m.PSID = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	copy(m.Recipient[:], buf[offset:offset+8])
	offset += 8

	m.Generated = int64(binary.BigEndian.Uint64(buf[offset:]))
	offset += 8

	certLen := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2
	if len(buf) < offset+certLen+4+ed25519.SignatureSize {
		return fmt.Errorf("%w: certificate truncated", ErrMalformedSigned)
	}
	m.Certificate = append([]byte(nil), buf[offset:offset+certLen]...)
	offset += certLen

	payloadLen := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	if len(buf)-offset-ed25519.SignatureSize != payloadLen {
		return fmt.Errorf("%w: payload length %d does not match message", ErrMalformedSigned, payloadLen)
	}
	m.Payload = append([]byte(nil), buf[offset:offset+payloadLen]...)
	offset += payloadLen

	m.Signature = append([]byte(nil), buf[offset:]...)
	return nil
}

// IsMalformed reports whether err came from a signed message that could not be parsed
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedSigned)
}
