package inet

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// PacketSender sends UDP datagrams either directly or through a forwarder.
// Every send opens its own socket and closes it before returning.
type PacketSender struct {
	forwarder  *Point
	forwardAll bool
	logger     *zap.Logger
	metrics    *Metrics
}

// NewPacketSender creates a sender. forwarder may be nil, in which case every
// datagram goes direct and ForwardInbound fails.
func NewPacketSender(forwarder *Point, forwardAll bool, logger *zap.Logger, metrics *Metrics) *PacketSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fwd *Point
	if forwarder != nil {
		p := *forwarder
		fwd = &p
	}
	return &PacketSender{
		forwarder:  fwd,
		forwardAll: forwardAll,
		logger:     logger.With(zap.String("component", "packet-sender")),
		metrics:    metrics,
	}
}

// Forwarder returns the configured forwarder point, if any
func (s *PacketSender) Forwarder() (Point, bool) {
	if s.forwarder == nil {
		return Point{}, false
	}
	return *s.forwarder, true
}

// Send transmits payload straight to dst
func (s *PacketSender) Send(ctx context.Context, dst Point, payload []byte) error {
	if !dst.IsValid() {
		return fmt.Errorf("%w: destination has no address", ErrInvalidParameters)
	}
	if payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidParameters)
	}
	if err := s.write(ctx, dst, payload); err != nil {
		return err
	}
	s.metrics.sent(Direct)
	return nil
}

// Forward sends payload to dst, relaying through the forwarder when Decide says so
func (s *PacketSender) Forward(ctx context.Context, dst Point, payload []byte, fromForwarder bool) error {
	if !dst.IsValid() {
		return fmt.Errorf("%w: destination has no address", ErrInvalidParameters)
	}
	if payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidParameters)
	}

	policy := Policy{ForwardAll: s.forwardAll, FromForwarder: fromForwarder}
	route := Decide(dst, policy, s.forwarder != nil)
	if route == Direct {
		return s.Send(ctx, dst, payload)
	}

	bundle, err := WrapForRelay(dst, payload)
	if err != nil {
		return err
	}
	s.logger.Debug("relaying datagram",
		zap.Stringer("dst", dst),
		zap.Stringer("forwarder", *s.forwarder),
		zap.Int("size", len(payload)))
	if err := s.write(ctx, *s.forwarder, bundle); err != nil {
		return err
	}
	s.metrics.sent(Relay)
	return nil
}

// ForwardInbound is the forwarder's inbound leg: it wraps a datagram received
// from src and hands it to the internal target.
func (s *PacketSender) ForwardInbound(ctx context.Context, src Point, payload []byte) error {
	if s.forwarder == nil {
		return fmt.Errorf("%w: forwarding destination is not defined", ErrInvalidParameters)
	}
	bundle, err := WrapForRelay(src, payload)
	if err != nil {
		return err
	}
	if err := s.write(ctx, *s.forwarder, bundle); err != nil {
		return err
	}
	s.metrics.sent(Relay)
	return nil
}

// SendBundle is the forwarder's outbound leg: it unwraps a relay envelope and
// delivers the payload to the destination it names.
func (s *PacketSender) SendBundle(ctx context.Context, bundle []byte) error {
	if bundle == nil {
		return fmt.Errorf("%w: nil bundle", ErrInvalidParameters)
	}
	dst, payload, err := UnwrapBundle(bundle)
	if err != nil {
		s.metrics.malformed()
		return err
	}
	return s.Send(ctx, dst, payload)
}

func (s *PacketSender) write(ctx context.Context, dst Point, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", dst.String())
	if err != nil {
		s.metrics.sendError()
		return fmt.Errorf("open socket to %s: %w", dst, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		s.metrics.sendError()
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}
