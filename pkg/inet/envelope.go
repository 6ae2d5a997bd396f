package inet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Address family tags of a relay envelope
const (
	TagIPv4 byte = 4
	TagIPv6 byte = 6
)

// minimum envelope: tag + IPv4 address + port
const minEnvelopeSize = 1 + 4 + 2

// WrapForRelay prepends the destination to payload:
// tag(1) + address(4|16) + port(2, big-endian) + payload.
func WrapForRelay(dst Point, payload []byte) ([]byte, error) {
	if !dst.IsValid() {
		return nil, fmt.Errorf("%w: destination has no address", ErrInvalidParameters)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidParameters)
	}

	addr := dst.Addr.Unmap()
	var buf []byte
	if addr.Is4() {
		a := addr.As4()
		buf = make([]byte, 0, 1+len(a)+2+len(payload))
		buf = append(buf, TagIPv4)
		buf = append(buf, a[:]...)
	} else {
		a := addr.As16()
		buf = make([]byte, 0, 1+len(a)+2+len(payload))
		buf = append(buf, TagIPv6)
		buf = append(buf, a[:]...)
	}
	buf = binary.BigEndian.AppendUint16(buf, dst.Port)
	buf = append(buf, payload...)
	return buf, nil
}

// UnwrapBundle splits a relay envelope into destination and payload.
// The returned payload aliases data.
func UnwrapBundle(data []byte) (Point, []byte, error) {
	if len(data) < minEnvelopeSize {
		return Point{}, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedEnvelope, len(data))
	}

	var addrLen int
	switch data[0] {
	case TagIPv4:
		addrLen = 4
	case TagIPv6:
		addrLen = 16
	default:
		return Point{}, nil, fmt.Errorf("%w: unknown address tag %d", ErrMalformedEnvelope, data[0])
	}

	headerLen := 1 + addrLen + 2
	if len(data) < headerLen {
		return Point{}, nil, fmt.Errorf("%w: %d bytes is shorter than the IPv6 header", ErrMalformedEnvelope, len(data))
	}

	var addr netip.Addr
	if addrLen == 4 {
		addr = netip.AddrFrom4([4]byte(data[1:5]))
	} else {
		addr = netip.AddrFrom16([16]byte(data[1:17]))
	}
	port := binary.BigEndian.Uint16(data[1+addrLen:])
	return Point{Addr: addr, Port: port}, data[headerLen:], nil
}
