package dialog

import (
	"sync/atomic"

	"github.com/ZentaChain/cvcomm/pkg/protocol"
)

// RequestCounter hands out request ids. One counter is shared by every
// Subscription talking to the same service so ids never repeat.
type RequestCounter struct {
	last atomic.Uint32
}

// NewRequestCounter creates a counter whose first id is start+1
func NewRequestCounter(start uint32) *RequestCounter {
	c := &RequestCounter{}
	c.last.Store(start)
	return c
}

// Next returns a fresh request id
func (c *RequestCounter) Next() protocol.TemporaryID {
	return protocol.TemporaryID(c.last.Add(1))
}

// Last returns the most recently issued id
func (c *RequestCounter) Last() protocol.TemporaryID {
	return protocol.TemporaryID(c.last.Load())
}
