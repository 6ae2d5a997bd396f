package security

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
)

// Provider signs outgoing payloads and verifies incoming signed messages.
// All failures wrap ErrCrypto.
type Provider interface {
	// Sign wraps payload in a signed message for recipient (zero for anyone)
	Sign(payload []byte, psid uint32, recipient CertID8) ([]byte, error)
	// ParseSigned verifies data and returns the payload and the signer's certificate
	ParseSigned(data []byte) ([]byte, *Certificate, error)
}

// Ed25519Provider signs with an Ed25519 certificate held in a CertificateStore
type Ed25519Provider struct {
	store  *CertificateStore
	signer *Certificate
	logger *zap.Logger

	// RequireTrusted rejects messages signed by certificates that were not loaded explicitly
	RequireTrusted bool

	now func() time.Time
}

// NewEd25519Provider creates a provider that signs with the certificate
// loaded under signerName. An empty signerName makes a verify-only provider.
func NewEd25519Provider(store *CertificateStore, signerName string, logger *zap.Logger) (*Ed25519Provider, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Ed25519Provider{
		store:  store,
		logger: logger.With(zap.String("component", "security")),
		now:    time.Now,
	}

	if signerName != "" {
		signer, ok := store.ByName(signerName)
		if !ok {
			return nil, fmt.Errorf("signer %q: %w", signerName, ErrUnknownCertificate)
		}
		if signer.Key == nil {
			return nil, fmt.Errorf("signer %q: %w", signerName, ErrNoSigningKey)
		}
		p.signer = signer
	}

	return p, nil
}

// Signer returns the signing certificate, or nil for a verify-only provider
func (p *Ed25519Provider) Signer() *Certificate {
	return p.signer
}

// Sign wraps payload in a signed message
func (p *Ed25519Provider) Sign(payload []byte, psid uint32, recipient CertID8) ([]byte, error) {
	if p.signer == nil {
		return nil, ErrNoSigningKey
	}

	msg := &SignedMessage{
		Version:     SignedVersion,
		PSID:        psid,
		Recipient:   recipient,
		Generated:   p.now().UnixMilli(),
		Certificate: p.signer.DER(),
		Payload:     payload,
	}

	sig, err := crypto.SignData(msg.signedBytes(), p.signer.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrCrypto, err)
	}
	msg.Signature = sig

	p.logger.Debug("signed payload",
		zap.Uint32("psid", psid),
		zap.Stringer("recipient", recipient),
		zap.Int("payload_size", len(payload)))

	return msg.Encode(), nil
}

// ParseSigned verifies a signed message and returns its payload and signer
func (p *Ed25519Provider) ParseSigned(data []byte) ([]byte, *Certificate, error) {
	msg := &SignedMessage{}
	if err := msg.Decode(data); err != nil {
		return nil, nil, err
	}

	parsed, err := crypto.ParseCertificate(msg.Certificate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	if err := crypto.VerifySignature(msg.signedBytes(), msg.Signature, parsed.PublicKey.(ed25519.PublicKey)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	now := p.now()
	if now.Before(parsed.NotBefore) || now.After(parsed.NotAfter) {
		return nil, nil, fmt.Errorf("%w: certificate outside its validity period", ErrCrypto)
	}

	if !msg.Recipient.IsZero() && p.signer != nil && msg.Recipient != p.signer.ID {
		return nil, nil, fmt.Errorf("%w: message addressed to %s", ErrCrypto, msg.Recipient)
	}

	cert := p.store.learn(parsed)
	if p.RequireTrusted && !p.store.Trusted(cert.ID) {
		return nil, nil, fmt.Errorf("%s: %w", cert.ID, ErrUntrustedCertificate)
	}

	return msg.Payload, cert, nil
}
