package security

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
)

func addTestCert(t *testing.T, store *CertificateStore, name string, withKey bool) *Certificate {
	t.Helper()
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	der, err := crypto.CreateCertificate(name, priv, time.Hour)
	require.NoError(t, err)
	if !withKey {
		priv = nil
	}
	cert, err := store.Add(name, der, priv)
	require.NoError(t, err)
	return cert
}

func TestCertificateStoreLoad(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	der, err := crypto.CreateCertificate("Self", priv, time.Hour)
	require.NoError(t, err)
	keyPEM, err := crypto.ExportPrivateKeyPEM(priv)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "self.pem")
	keyPath := filepath.Join(dir, "self.key")
	require.NoError(t, crypto.SaveKeyToFile(certPath, crypto.ExportCertificatePEM(der)))
	require.NoError(t, crypto.SaveKeyToFile(keyPath, keyPEM))

	store := NewCertificateStore(zaptest.NewLogger(t))
	cert, err := store.Load("Self", certPath, keyPath)
	require.NoError(t, err)

	assert.Equal(t, CertID8(crypto.CertID(der)), cert.ID)
	assert.NotNil(t, cert.Key)
	assert.True(t, store.Trusted(cert.ID))

	byName, ok := store.ByName("Self")
	require.True(t, ok)
	assert.Same(t, cert, byName)

	byID, ok := store.Get(cert.ID)
	require.True(t, ok)
	assert.Same(t, cert, byID)

	store.Clear()
	assert.Equal(t, 0, store.Len())
	assert.False(t, store.Trusted(cert.ID))
}

func TestCertificateStoreLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewCertificateStore(nil)

	_, err := store.Load("missing", filepath.Join(dir, "nope.pem"), "")
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, crypto.SaveKeyToFile(garbage, []byte("garbage")))
	_, err = store.Load("garbage", garbage, "")
	assert.ErrorIs(t, err, crypto.ErrInvalidCertificate)
}

func TestCertificateStoreKeyMismatch(t *testing.T) {
	_, priv, _ := crypto.GenerateKeyPair()
	_, other, _ := crypto.GenerateKeyPair()
	der, err := crypto.CreateCertificate("Self", priv, time.Hour)
	require.NoError(t, err)

	_, err = NewCertificateStore(nil).Add("Self", der, other)
	assert.ErrorIs(t, err, ErrCertificateMismatch)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestProviderSignParse(t *testing.T) {
	clientStore := NewCertificateStore(nil)
	clientCert := addTestCert(t, clientStore, "Self", true)
	client, err := NewEd25519Provider(clientStore, "Self", zaptest.NewLogger(t))
	require.NoError(t, err)

	serverStore := NewCertificateStore(nil)
	serverCert := addTestCert(t, serverStore, "Server", true)
	server, err := NewEd25519Provider(serverStore, "Server", zaptest.NewLogger(t))
	require.NoError(t, err)

	payload := []byte("service request")
	signed, err := client.Sign(payload, 0x2fe1, CertID8{})
	require.NoError(t, err)

	got, signer, err := server.ParseSigned(signed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, clientCert.ID, signer.ID)
	assert.False(t, serverStore.Trusted(signer.ID), "learned certificates are not trusted")

	// addressed reply
	reply, err := server.Sign([]byte("service response"), 0x2fe1, clientCert.ID)
	require.NoError(t, err)
	got, signer, err = client.ParseSigned(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("service response"), got)
	assert.Equal(t, serverCert.ID, signer.ID)
}

func TestProviderParseSignedFailures(t *testing.T) {
	store := NewCertificateStore(nil)
	addTestCert(t, store, "Self", true)
	provider, err := NewEd25519Provider(store, "Self", nil)
	require.NoError(t, err)

	signed, err := provider.Sign([]byte("payload"), 1, CertID8{})
	require.NoError(t, err)

	tampered := append([]byte(nil), signed...)
	tampered[len(tampered)-70] ^= 0xFF

	misaddressed, err := provider.Sign([]byte("payload"), 1, CertID8{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", signed[:len(signed)-1]},
		{"trailing byte", append(append([]byte(nil), signed...), 0)},
		{"tampered payload", tampered},
		{"wrong recipient", misaddressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := provider.ParseSigned(tt.data)
			assert.True(t, errors.Is(err, ErrCrypto), "error = %v", err)
		})
	}
}

func TestProviderRequireTrusted(t *testing.T) {
	peerStore := NewCertificateStore(nil)
	addTestCert(t, peerStore, "Peer", true)
	peer, err := NewEd25519Provider(peerStore, "Peer", nil)
	require.NoError(t, err)

	store := NewCertificateStore(nil)
	verifier, err := NewEd25519Provider(store, "", nil)
	require.NoError(t, err)
	verifier.RequireTrusted = true

	signed, err := peer.Sign([]byte("x"), 1, CertID8{})
	require.NoError(t, err)

	_, _, err = verifier.ParseSigned(signed)
	assert.ErrorIs(t, err, ErrUntrustedCertificate)
}

func TestProviderExpiredCertificate(t *testing.T) {
	store := NewCertificateStore(nil)
	addTestCert(t, store, "Self", true)
	provider, err := NewEd25519Provider(store, "Self", nil)
	require.NoError(t, err)

	signed, err := provider.Sign([]byte("x"), 1, CertID8{})
	require.NoError(t, err)

	provider.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = provider.ParseSigned(signed)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestNewEd25519ProviderErrors(t *testing.T) {
	store := NewCertificateStore(nil)
	addTestCert(t, store, "Public", false)

	_, err := NewEd25519Provider(store, "Missing", nil)
	assert.ErrorIs(t, err, ErrUnknownCertificate)

	_, err = NewEd25519Provider(store, "Public", nil)
	assert.ErrorIs(t, err, ErrNoSigningKey)

	verifyOnly, err := NewEd25519Provider(store, "", nil)
	require.NoError(t, err)
	_, err = verifyOnly.Sign([]byte("x"), 1, CertID8{})
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestSignedMessageEncodeDecode(t *testing.T) {
	msg := &SignedMessage{
		Version:     SignedVersion,
		PSID:        0x2fe1,
		Recipient:   CertID8{8, 7, 6, 5, 4, 3, 2, 1},
		Generated:   1_700_000_000_000,
		Certificate: []byte("der"),
		Payload:     []byte("payload"),
		Signature:   make([]byte, 64),
	}

	decoded := &SignedMessage{}
	require.NoError(t, decoded.Decode(msg.Encode()))
	assert.Equal(t, msg, decoded)
}
