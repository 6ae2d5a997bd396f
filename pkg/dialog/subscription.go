package dialog

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

const (
	DefaultTypeMask     = uint8(protocol.VsmVehStat)
	DefaultEndInMinutes = 3
)

// State is the progress of the current subscription operation
type State int32

const (
	StateIdle State = iota
	StateAwaitingTrust
	StateAwaitingResponse
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTrust:
		return "awaiting_trust"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SubscriptionConfig configures a Subscription
type SubscriptionConfig struct {
	Destination *net.UDPAddr

	// Reply point announced during trust establishment. ReplyPort 0 means
	// replies come back to the sending socket.
	ReplyHost netip.Addr
	ReplyPort int
	LocalPort int

	GroupID       protocol.GroupID
	TypeMask      uint8 // forwarded as-is; 0 means DefaultTypeMask
	EndInMinutes  int   // 0 means DefaultEndInMinutes
	ServiceRegion *protocol.GeoRegion

	Attempts int
	Timeout  time.Duration

	Secure bool
	PSID   uint32
}

// Subscription creates and cancels data subscriptions with the
// distribution service. Operations on one Subscription are serialized.
type Subscription struct {
	cfg      SubscriptionConfig
	codec    protocol.Codec
	provider security.Provider
	counter  *RequestCounter
	logger   *zap.Logger
	now      func() time.Time

	mu              sync.Mutex
	state           State
	requestID       protocol.TemporaryID
	subscriptionID  protocol.TemporaryID
	hasSubscription bool
}

// NewSubscription validates cfg. counter is shared by every Subscription
// that talks to the same service.
func NewSubscription(cfg SubscriptionConfig, codec protocol.Codec, provider security.Provider, counter *RequestCounter, logger *zap.Logger) (*Subscription, error) {
	const op = "new subscription"

	if cfg.Destination == nil {
		return nil, invalidParams(op, "destination is required")
	}
	if codec == nil || counter == nil {
		return nil, invalidParams(op, "codec and request counter are required")
	}
	if cfg.Secure && provider == nil {
		return nil, invalidParams(op, "secure mode requires a security provider")
	}
	if cfg.Attempts < 0 || cfg.Timeout < 0 || cfg.EndInMinutes < 0 {
		return nil, invalidParams(op, "attempts, timeout and end time must not be negative")
	}
	if cfg.ReplyPort < 0 || cfg.ReplyPort > 65535 || cfg.LocalPort < 0 || cfg.LocalPort > 65535 {
		return nil, invalidParams(op, "reply port %d or local port %d out of range", cfg.ReplyPort, cfg.LocalPort)
	}
	if cfg.ServiceRegion != nil {
		if err := cfg.ServiceRegion.Validate(); err != nil {
			return nil, invalidParams(op, "%w", err)
		}
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TypeMask == 0 {
		cfg.TypeMask = DefaultTypeMask
	}
	if cfg.EndInMinutes == 0 {
		cfg.EndInMinutes = DefaultEndInMinutes
	}
	if cfg.PSID == 0 {
		cfg.PSID = protocol.DefaultPSID
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscription{
		cfg:      cfg,
		codec:    codec,
		provider: provider,
		counter:  counter,
		logger:   logger.With(zap.String("component", "subscription")),
		now:      time.Now,
	}, nil
}

// Subscribe establishes trust and requests a new subscription. It returns
// the subscription id assigned by the service.
func (s *Subscription) Subscribe(ctx context.Context) (protocol.TemporaryID, error) {
	const op = "subscribe"

	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := s.begin()
	certID, err := s.establishTrust(ctx, requestID)
	if err != nil {
		s.state = StateFailed
		return 0, err
	}

	s.state = StateAwaitingResponse
	request := &protocol.DataSubscriptionRequest{
		DialogID:      protocol.DialogDataSubscription,
		SeqID:         protocol.SeqSubscriptionRequest,
		GroupID:       s.cfg.GroupID,
		RequestID:     requestID,
		TypeMask:      s.cfg.TypeMask,
		EndTime:       s.now().UTC().Add(time.Duration(s.cfg.EndInMinutes) * time.Minute).Truncate(time.Minute),
		ServiceRegion: s.cfg.ServiceRegion,
	}

	var subscriptionID protocol.TemporaryID
	err = s.submit(ctx, op, request, certID, func(resp *protocol.DataSubscriptionResponse) error {
		if resp.RequestID != requestID {
			return attemptError(KindMalformed, "unexpected Subscription Request response request id: expected %d, actual %d", requestID, resp.RequestID)
		}
		if resp.HasError() {
			return serverError(op, "Subscription Request", *resp.ErrorCode)
		}
		subscriptionID = resp.SubscriptionID
		return nil
	})
	if err != nil {
		s.state = StateFailed
		return 0, err
	}

	s.subscriptionID = subscriptionID
	s.hasSubscription = true
	s.state = StateCompleted
	s.logger.Info("subscribed",
		zap.Uint32("request_id", uint32(requestID)),
		zap.Uint32("subscription_id", uint32(subscriptionID)),
		zap.String("types", protocol.VsmNames(s.cfg.TypeMask)))
	return subscriptionID, nil
}

// Cancel establishes trust and cancels subscription id
func (s *Subscription) Cancel(ctx context.Context, id protocol.TemporaryID) error {
	const op = "cancel subscription"

	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := s.begin()
	certID, err := s.establishTrust(ctx, requestID)
	if err != nil {
		s.state = StateFailed
		return err
	}

	s.state = StateAwaitingResponse
	request := &protocol.DataSubscriptionCancel{
		DialogID:       protocol.DialogDataSubscription,
		SeqID:          protocol.SeqSubscriptionCancel,
		GroupID:        s.cfg.GroupID,
		RequestID:      requestID,
		SubscriptionID: id,
	}

	err = s.submit(ctx, op, request, certID, func(resp *protocol.DataSubscriptionResponse) error {
		if resp.RequestID != requestID {
			return attemptError(KindMalformed, "unexpected Subscription Cancel response request id: expected %d, actual %d", requestID, resp.RequestID)
		}
		if resp.SubscriptionID != id {
			return attemptError(KindMalformed, "unexpected Subscription Cancel response subscription id: expected %d, actual %d", id, resp.SubscriptionID)
		}
		if resp.HasError() {
			return serverError(op, "Subscription Cancel", *resp.ErrorCode)
		}
		return nil
	})
	if err != nil {
		s.state = StateFailed
		return err
	}

	if s.hasSubscription && s.subscriptionID == id {
		s.hasSubscription = false
		s.subscriptionID = 0
	}
	s.state = StateCompleted
	s.logger.Info("subscription cancelled",
		zap.Uint32("request_id", uint32(requestID)),
		zap.Uint32("subscription_id", uint32(id)))
	return nil
}

// SubscriptionID returns the id of the active subscription, if any
func (s *Subscription) SubscriptionID() (protocol.TemporaryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionID, s.hasSubscription
}

// RequestID returns the request id of the latest operation
func (s *Subscription) RequestID() protocol.TemporaryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// State returns the state of the latest operation
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin takes a fresh request id; callers hold mu
func (s *Subscription) begin() protocol.TemporaryID {
	s.requestID = s.counter.Next()
	s.state = StateAwaitingTrust
	return s.requestID
}

func (s *Subscription) replyPoint() *protocol.ConnectionPoint {
	if s.cfg.ReplyPort == 0 {
		return nil
	}
	return &protocol.ConnectionPoint{Address: s.cfg.ReplyHost, Port: uint16(s.cfg.ReplyPort)}
}

func (s *Subscription) establishTrust(ctx context.Context, requestID protocol.TemporaryID) (security.CertID8, error) {
	trust, err := NewTrustEstablishment(TrustConfig{
		DialogID:    protocol.DialogDataSubscription,
		GroupID:     s.cfg.GroupID,
		RequestID:   requestID,
		Destination: s.cfg.Destination,
		ReplyTo:     s.replyPoint(),
		LocalPort:   s.cfg.LocalPort,
		Attempts:    s.cfg.Attempts,
		Timeout:     s.cfg.Timeout,
		Secure:      s.cfg.Secure,
		PSID:        s.cfg.PSID,
	}, s.codec, s.provider, s.logger)
	if err != nil {
		return security.CertID8{}, err
	}

	certID, err := trust.Establish(ctx)
	if err != nil {
		return security.CertID8{}, err
	}
	if s.cfg.Secure {
		s.logger.Debug("trust establishment returned certificate", zap.Stringer("cert_id", certID))
	}
	return certID, nil
}

// submit sends a subscription message and validates replies with check
func (s *Subscription) submit(ctx context.Context, op string, msg protocol.Message, certID security.CertID8, check func(*protocol.DataSubscriptionResponse) error) error {
	payload, err := s.codec.Encode(msg)
	if err != nil {
		return &Error{Op: op, Kind: KindInvalidParams, Err: ErrSubscriptionFailed, Cause: err}
	}
	if s.cfg.Secure {
		if payload, err = s.provider.Sign(payload, s.cfg.PSID, certID); err != nil {
			return &Error{Op: op, Kind: KindSigning, Err: ErrSubscriptionFailed, Cause: err}
		}
	}

	x := &exchange{
		op:        op,
		failed:    ErrSubscriptionFailed,
		dst:       s.cfg.Destination,
		localPort: s.cfg.LocalPort,
		replyPort: s.cfg.ReplyPort,
		attempts:  s.cfg.Attempts,
		timeout:   s.cfg.Timeout,
		maxSize:   protocol.MaxSubscriptionPacketSize,
		payload:   payload,
		secure:    s.cfg.Secure,
		provider:  s.provider,
		codec:     s.codec,
		logger:    s.logger,
		validate: func(reply protocol.Message, _ *security.Certificate) error {
			resp, ok := reply.(*protocol.DataSubscriptionResponse)
			if !ok {
				return attemptError(KindMalformed, "unexpected response message of type %T", reply)
			}
			return check(resp)
		},
	}
	return x.run(ctx)
}
