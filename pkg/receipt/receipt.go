// Package receipt publishes and consumes delivery receipts. A receipt is a
// JSON record {"receiptId": "..."} naming a delivered WireBundle.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingReceiptID = errors.New("receipt id is missing")
	ErrMalformedReceipt = errors.New("malformed receipt record")
)

// Receipt acknowledges delivery of one bundle
type Receipt struct {
	ReceiptID string `json:"receiptId"`
}

// New builds a receipt for receiptID
func New(receiptID string) (*Receipt, error) {
	if receiptID == "" {
		return nil, ErrMissingReceiptID
	}
	return &Receipt{ReceiptID: receiptID}, nil
}

// Parse decodes a receipt record. A record without a receipt id parses to a
// receipt with an empty ReceiptID.
func Parse(record string) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	return &r, nil
}

// Record returns the JSON text of the receipt
func (r *Receipt) Record() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func (r *Receipt) String() string {
	return r.Record()
}
