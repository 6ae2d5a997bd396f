package inet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrMalformedEnvelope = errors.New("malformed relay envelope")
	ErrForwarderStopped  = errors.New("forwarder stopped")
)

// Point is a UDP endpoint
type Point struct {
	Addr netip.Addr
	Port uint16
}

// NewPoint builds a point, folding IPv4-mapped IPv6 addresses to IPv4
func NewPoint(addr netip.Addr, port uint16) Point {
	return Point{Addr: addr.Unmap(), Port: port}
}

// PointFromUDPAddr converts a socket address
func PointFromUDPAddr(addr *net.UDPAddr) Point {
	if addr == nil {
		return Point{}
	}
	return NewPoint(addr.AddrPort().Addr(), uint16(addr.Port))
}

// IsValid reports whether the point carries an address
func (p Point) IsValid() bool {
	return p.Addr.IsValid()
}

// IsIPv6 reports whether the address is a native IPv6 address
func (p Point) IsIPv6() bool {
	return p.Addr.Unmap().Is6()
}

func (p Point) String() string {
	return netip.AddrPortFrom(p.Addr, p.Port).String()
}

// UDPAddr returns the point as a socket address
func (p Point) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(p.Addr, p.Port))
}

// Multiaddr renders the point as /ip4/<addr>/udp/<port> or /ip6/...
func (p Point) Multiaddr() (multiaddr.Multiaddr, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidParameters)
	}
	family := "ip4"
	if p.IsIPv6() {
		family = "ip6"
	}
	return multiaddr.NewMultiaddr(fmt.Sprintf("/%s/%s/udp/%d", family, p.Addr.Unmap(), p.Port))
}

// ParsePoint accepts "host:port" with a literal address, or a multiaddr
// such as /ip4/10.0.0.1/udp/46753.
func ParsePoint(s string) (Point, error) {
	if strings.HasPrefix(s, "/") {
		return parseMultiaddr(s)
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return NewPoint(ap.Addr(), ap.Port()), nil
}

func parseMultiaddr(s string) (Point, error) {
	maddr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	host, err := maddr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = maddr.ValueForProtocol(multiaddr.P_IP6)
	}
	if err != nil {
		return Point{}, fmt.Errorf("%w: %s has no ip4 or ip6 component", ErrInvalidParameters, s)
	}
	portStr, err := maddr.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %s has no udp component", ErrInvalidParameters, s)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return NewPoint(addr, uint16(port)), nil
}

// ResolvePoint resolves host (a literal or a DNS name) and pairs it with port.
// The first address returned by the resolver wins.
func ResolvePoint(ctx context.Context, host string, port int) (Point, error) {
	if host == "" {
		return Point{}, fmt.Errorf("%w: empty host", ErrInvalidParameters)
	}
	if port < 0 || port > 65535 {
		return Point{}, fmt.Errorf("%w: port %d out of range", ErrInvalidParameters, port)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return NewPoint(addr, uint16(port)), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return Point{}, fmt.Errorf("%w: resolve %s: %v", ErrInvalidParameters, host, err)
	}
	if len(addrs) == 0 {
		return Point{}, fmt.Errorf("%w: no addresses for %s", ErrInvalidParameters, host)
	}
	return NewPoint(addrs[0], uint16(port)), nil
}
