package dialog

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 4000 * time.Millisecond
)

// TrustConfig configures one trust establishment exchange
type TrustConfig struct {
	DialogID  protocol.DialogID
	GroupID   protocol.GroupID
	RequestID protocol.TemporaryID

	// Destination is the service address
	Destination *net.UDPAddr
	// ReplyTo, when set, asks the service to answer elsewhere. A non-zero
	// port different from LocalPort also gets its own receive socket.
	ReplyTo *protocol.ConnectionPoint
	// LocalPort binds the send socket; 0 picks an ephemeral port
	LocalPort int

	Attempts int           // 0 means DefaultAttempts
	Timeout  time.Duration // per attempt; 0 means DefaultTimeout

	Secure bool
	PSID   uint32 // 0 means protocol.DefaultPSID
}

// TrustEstablishment runs the service request / service response handshake
type TrustEstablishment struct {
	cfg      TrustConfig
	codec    protocol.Codec
	provider security.Provider
	logger   *zap.Logger
	now      func() time.Time
}

// NewTrustEstablishment validates cfg and fills defaults. provider is only
// required when cfg.Secure is set.
func NewTrustEstablishment(cfg TrustConfig, codec protocol.Codec, provider security.Provider, logger *zap.Logger) (*TrustEstablishment, error) {
	const op = "establish trust"

	if cfg.Destination == nil {
		return nil, invalidParams(op, "destination is required")
	}
	if codec == nil {
		return nil, invalidParams(op, "codec is required")
	}
	if cfg.Secure && provider == nil {
		return nil, invalidParams(op, "secure mode requires a security provider")
	}
	if cfg.Attempts < 0 || cfg.Timeout < 0 {
		return nil, invalidParams(op, "attempts %d and timeout %v must not be negative", cfg.Attempts, cfg.Timeout)
	}
	if cfg.LocalPort < 0 || cfg.LocalPort > 65535 {
		return nil, invalidParams(op, "local port %d out of range", cfg.LocalPort)
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PSID == 0 {
		cfg.PSID = protocol.DefaultPSID
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrustEstablishment{
		cfg:      cfg,
		codec:    codec,
		provider: provider,
		logger: logger.With(
			zap.String("component", "trust"),
			zap.Stringer("dialog", cfg.DialogID),
			zap.Uint32("request_id", uint32(cfg.RequestID))),
		now: time.Now,
	}, nil
}

// Establish sends the service request until a valid response arrives. In
// secure mode it returns the id of the certificate that signed the response.
func (t *TrustEstablishment) Establish(ctx context.Context) (security.CertID8, error) {
	const op = "establish trust"

	request := protocol.NewServiceRequest(t.cfg.DialogID, t.cfg.GroupID, t.cfg.RequestID, t.cfg.ReplyTo)
	encoded, err := t.codec.Encode(request)
	if err != nil {
		return security.CertID8{}, &Error{Op: op, Kind: KindInvalidParams, Err: ErrTrustEstablishmentFailed, Cause: err}
	}
	payload := encoded
	if t.cfg.Secure {
		if payload, err = t.provider.Sign(encoded, t.cfg.PSID, security.CertID8{}); err != nil {
			return security.CertID8{}, &Error{Op: op, Kind: KindSigning, Err: ErrTrustEstablishmentFailed, Cause: err}
		}
	}

	var certID security.CertID8
	x := &exchange{
		op:        op,
		failed:    ErrTrustEstablishmentFailed,
		dst:       t.cfg.Destination,
		localPort: t.cfg.LocalPort,
		attempts:  t.cfg.Attempts,
		timeout:   t.cfg.Timeout,
		maxSize:   protocol.MaxHandshakePacketSize,
		payload:   payload,
		secure:    t.cfg.Secure,
		provider:  t.provider,
		codec:     t.codec,
		logger:    t.logger,
		validate: func(msg protocol.Message, signer *security.Certificate) error {
			if err := t.validate(msg, encoded); err != nil {
				return err
			}
			if signer != nil {
				certID = signer.ID
			}
			return nil
		},
	}
	if t.cfg.ReplyTo != nil {
		x.replyPort = int(t.cfg.ReplyTo.Port)
	}

	if err := x.run(ctx); err != nil {
		return security.CertID8{}, err
	}

	t.logger.Info("trust established", zap.Stringer("cert_id", certID))
	return certID, nil
}

// validate checks a decoded reply against the request it answers. The
// responder hashes the unsigned request it decoded.
func (t *TrustEstablishment) validate(msg protocol.Message, request []byte) error {
	resp, ok := msg.(*protocol.ServiceResponse)
	if !ok {
		return attemptError(KindMalformed, "unexpected response message of type %T", msg)
	}
	if resp.DialogID != t.cfg.DialogID {
		return attemptError(KindMalformed, "unexpected response dialog id: expected %d, actual %d", t.cfg.DialogID, resp.DialogID)
	}
	if resp.RequestID != t.cfg.RequestID {
		return attemptError(KindMalformed, "unexpected response request id: expected %d, actual %d", t.cfg.RequestID, resp.RequestID)
	}
	if now := t.now(); resp.Expired(now) {
		return attemptError(KindMalformed, "response expired at %s, now %s",
			resp.Expiration.Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if !crypto.VerifyDigest(request, resp.Hash) {
		return attemptError(KindCrypto, "response hash does not match request")
	}
	if resp.ServiceRegion != nil {
		t.logger.Debug("service region offered", zap.Stringer("region", resp.ServiceRegion))
	}
	return nil
}
