package inet

// Route is how an outbound datagram leaves this node
type Route uint8

const (
	Direct Route = iota
	Relay
)

func (r Route) String() string {
	switch r {
	case Direct:
		return "direct"
	case Relay:
		return "relay"
	}
	return "unknown"
}

// Policy holds the per-send relay switches
type Policy struct {
	ForwardAll    bool // relay IPv4 destinations too
	FromForwarder bool // the message being answered arrived through a forwarder
}

// Decide picks the route for dst. Without a forwarder everything goes direct;
// with one, IPv6 destinations always relay and IPv4 relays when either policy
// switch is set.
func Decide(dst Point, policy Policy, forwarderConfigured bool) Route {
	if forwarderConfigured && (dst.IsIPv6() || policy.ForwardAll || policy.FromForwarder) {
		return Relay
	}
	return Direct
}
