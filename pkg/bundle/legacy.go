package bundle

import (
	"fmt"

	"github.com/google/uuid"
)

// ReceiptIDSize is the width of a textual UUID prefix
const ReceiptIDSize = 36

// PrependReceiptID puts the textual form of id in front of payload
func PrependReceiptID(id uuid.UUID, payload []byte) []byte {
	out := make([]byte, 0, ReceiptIDSize+len(payload))
	out = append(out, id.String()...)
	return append(out, payload...)
}

// PrependNewReceiptID prefixes payload with a fresh random receipt id
func PrependNewReceiptID(payload []byte) (uuid.UUID, []byte) {
	id := uuid.New()
	return id, PrependReceiptID(id, payload)
}

// PrependReceiptIDString is PrependReceiptID for an id already in text form.
// The id must be exactly ReceiptIDSize bytes.
func PrependReceiptIDString(id string, payload []byte) ([]byte, error) {
	if len(id) != ReceiptIDSize {
		return nil, fmt.Errorf("%w: receipt id must be %d bytes, got %d", ErrInvalidParameters, ReceiptIDSize, len(id))
	}
	out := make([]byte, 0, ReceiptIDSize+len(payload))
	out = append(out, id...)
	return append(out, payload...), nil
}

// Unwrap splits a legacy value at byte 36 into receipt id and payload.
// The result carries no destination, certificate or forwarder metadata.
func Unwrap(data []byte) (*WireBundle, error) {
	if len(data) < ReceiptIDSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a receipt id", ErrTruncatedBuffer, len(data))
	}
	if len(data) == ReceiptIDSize {
		return nil, ErrEmptyPayload
	}
	payload := make([]byte, len(data)-ReceiptIDSize)
	copy(payload, data[ReceiptIDSize:])
	return &WireBundle{
		ReceiptID: string(data[:ReceiptIDSize]),
		DestPort:  -1,
		Payload:   payload,
	}, nil
}

// DecodeBase64AndUnwrap is Unwrap for a base64 queue value
func DecodeBase64AndUnwrap(s string) (*WireBundle, error) {
	raw, err := decodeBase64(s)
	if err != nil {
		return nil, err
	}
	return Unwrap(raw)
}
