package security

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
)

var (
	ErrCrypto               = errors.New("crypto failure")
	ErrUnknownCertificate   = fmt.Errorf("%w: unknown certificate", ErrCrypto)
	ErrNoSigningKey         = fmt.Errorf("%w: certificate has no private key", ErrCrypto)
	ErrCertificateMismatch  = fmt.Errorf("%w: private key does not match certificate", ErrCrypto)
	ErrUntrustedCertificate = fmt.Errorf("%w: certificate is not trusted", ErrCrypto)
)

// CertID8 is the short id of a certificate (see crypto.CertID)
type CertID8 [crypto.CertIDSize]byte

// IsZero reports whether id is unset
func (id CertID8) IsZero() bool {
	return id == CertID8{}
}

func (id CertID8) String() string {
	return hex.EncodeToString(id[:])
}

// Certificate is a parsed certificate, optionally paired with its private key
type Certificate struct {
	Name string
	ID   CertID8
	X509 *x509.Certificate
	Key  ed25519.PrivateKey // nil for peer certificates
}

// DER returns the raw certificate
func (c *Certificate) DER() []byte {
	return c.X509.Raw
}

// PublicKey returns the certificate's Ed25519 key
func (c *Certificate) PublicKey() ed25519.PublicKey {
	return c.X509.PublicKey.(ed25519.PublicKey)
}

// CertificateStore holds the certificates known to this process. Loaded
// certificates are trusted; certificates learned from signed messages are
// kept but only trusted once loaded explicitly.
type CertificateStore struct {
	mu      sync.RWMutex
	byID    map[CertID8]*Certificate
	byName  map[string]*Certificate
	trusted map[CertID8]bool
	logger  *zap.Logger
}

// NewCertificateStore creates an empty store
func NewCertificateStore(logger *zap.Logger) *CertificateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateStore{
		byID:    make(map[CertID8]*Certificate),
		byName:  make(map[string]*Certificate),
		trusted: make(map[CertID8]bool),
		logger:  logger.With(zap.String("component", "certificates")),
	}
}

// Load reads a PEM certificate and, when keyPath is not empty, its PEM
// private key, and adds them to the store as trusted
func (s *CertificateStore) Load(name, certPath, keyPath string) (*Certificate, error) {
	certPEM, err := crypto.LoadKeyFromFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", certPath, err)
	}
	parsed, err := crypto.ImportCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("load certificate %s: %w", name, err)
	}

	var key ed25519.PrivateKey
	if keyPath != "" {
		keyPEM, err := crypto.LoadKeyFromFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
		}
		if key, err = crypto.ImportPrivateKeyPEM(keyPEM); err != nil {
			return nil, fmt.Errorf("load private key %s: %w", name, err)
		}
	}

	return s.add(name, parsed, key, true)
}

// Add adds a DER certificate and optional key as trusted
func (s *CertificateStore) Add(name string, der []byte, key ed25519.PrivateKey) (*Certificate, error) {
	parsed, err := crypto.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("add certificate %s: %w", name, err)
	}
	return s.add(name, parsed, key, true)
}

// learn records a peer certificate seen in a signed message without trusting it
func (s *CertificateStore) learn(parsed *x509.Certificate) *Certificate {
	id := CertID8(crypto.CertID(parsed.Raw))

	s.mu.Lock()
	defer s.mu.Unlock()

	if cert, ok := s.byID[id]; ok {
		return cert
	}
	cert := &Certificate{Name: parsed.Subject.CommonName, ID: id, X509: parsed}
	s.byID[id] = cert
	s.logger.Debug("learned peer certificate", zap.Stringer("cert_id", id), zap.String("subject", cert.Name))
	return cert
}

func (s *CertificateStore) add(name string, parsed *x509.Certificate, key ed25519.PrivateKey, trusted bool) (*Certificate, error) {
	if key != nil && !key.Public().(ed25519.PublicKey).Equal(parsed.PublicKey) {
		return nil, fmt.Errorf("certificate %s: %w", name, ErrCertificateMismatch)
	}

	cert := &Certificate{
		Name: name,
		ID:   CertID8(crypto.CertID(parsed.Raw)),
		X509: parsed,
		Key:  key,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[cert.ID] = cert
	s.byName[name] = cert
	if trusted {
		s.trusted[cert.ID] = true
	}

	s.logger.Info("certificate loaded",
		zap.String("name", name),
		zap.Stringer("cert_id", cert.ID),
		zap.Bool("has_key", key != nil))
	return cert, nil
}

// Get returns a certificate by id
func (s *CertificateStore) Get(id CertID8) (*Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.byID[id]
	return cert, ok
}

// ByName returns a certificate by the name it was loaded under
func (s *CertificateStore) ByName(name string) (*Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.byName[name]
	return cert, ok
}

// Trusted reports whether id belongs to an explicitly loaded certificate
func (s *CertificateStore) Trusted(id CertID8) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted[id]
}

// Len returns the number of known certificates
func (s *CertificateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes every certificate
func (s *CertificateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[CertID8]*Certificate)
	s.byName = make(map[string]*Certificate)
	s.trusted = make(map[CertID8]bool)
}
