package dialog

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

// handlerFunc answers the n-th decoded request; nil drops it
type handlerFunc func(n int, msg protocol.Message, raw []byte) protocol.Message

// startService runs a simulated distribution service on loopback. Replies go
// to the sender, or to the reply port announced in the last service request.
func startService(t *testing.T, provider security.Provider, handle handlerFunc) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	codec := protocol.NewBinaryCodec()
	go func() {
		buf := make([]byte, 8192)
		var replyTo *net.UDPAddr
		n := 0
		for {
			size, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := append([]byte(nil), buf[:size]...)

			var peer security.CertID8
			if provider != nil {
				payload, cert, err := provider.ParseSigned(data)
				if err != nil {
					continue
				}
				data, peer = payload, cert.ID
			}

			msg, err := codec.Decode(data)
			if err != nil {
				continue
			}
			if req, ok := msg.(*protocol.ServiceRequest); ok {
				replyTo = nil
				if req.ReplyTo != nil && req.ReplyTo.Port != 0 {
					replyTo = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(req.ReplyTo.Port)}
				}
			}

			n++
			resp := handle(n, msg, data)
			if resp == nil {
				continue
			}
			out, err := codec.Encode(resp)
			if err != nil {
				continue
			}
			if provider != nil {
				if out, err = provider.Sign(out, protocol.DefaultPSID, peer); err != nil {
					continue
				}
			}

			dst := from
			if replyTo != nil {
				dst = replyTo
			}
			conn.WriteToUDP(out, dst)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

// acceptTrust answers a service request the way a healthy service does
func acceptTrust(req *protocol.ServiceRequest, raw []byte) *protocol.ServiceResponse {
	return &protocol.ServiceResponse{
		DialogID:   req.DialogID,
		SeqID:      protocol.SeqServiceResponse,
		GroupID:    req.GroupID,
		RequestID:  req.RequestID,
		Expiration: time.Now().Add(time.Minute),
		Hash:       crypto.Digest(raw),
	}
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// failedAttempts counts "attempt failed" warnings of the given kind
func failedAttempts(logs *observer.ObservedLogs, kind Kind) int {
	count := 0
	for _, entry := range logs.FilterMessage("attempt failed").All() {
		if entry.ContextMap()["kind"] == kind.String() {
			count++
		}
	}
	return count
}

// freePort returns a UDP port that was free a moment ago
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func newProvider(t *testing.T, name string) (*security.Ed25519Provider, *security.Certificate) {
	t.Helper()
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	der, err := crypto.CreateCertificate(name, priv, time.Hour)
	require.NoError(t, err)

	store := security.NewCertificateStore(nil)
	cert, err := store.Add(name, der, priv)
	require.NoError(t, err)
	provider, err := security.NewEd25519Provider(store, name, nil)
	require.NoError(t, err)
	return provider, cert
}

// brokenSigner signs the first `good` payloads with the wrapped provider and
// fails after that
type brokenSigner struct {
	security.Provider
	good  int
	calls int
}

func (b *brokenSigner) Sign(payload []byte, psid uint32, recipient security.CertID8) ([]byte, error) {
	b.calls++
	if b.calls > b.good {
		return nil, fmt.Errorf("%w: sign: key unavailable", security.ErrCrypto)
	}
	return b.Provider.Sign(payload, psid, recipient)
}
