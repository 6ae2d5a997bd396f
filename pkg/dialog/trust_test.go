package dialog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

func newTrust(t *testing.T, cfg TrustConfig, provider security.Provider) (*TrustEstablishment, func() int) {
	t.Helper()
	logger, logs := observedLogger()
	te, err := NewTrustEstablishment(cfg, protocol.NewBinaryCodec(), provider, logger)
	require.NoError(t, err)
	return te, func() int { return failedAttempts(logs, KindTimeout) }
}

func TestEstablishTrust(t *testing.T) {
	var seen atomic.Pointer[protocol.ServiceRequest]
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		req := msg.(*protocol.ServiceRequest)
		seen.Store(req)
		return acceptTrust(req, raw)
	})

	te, timeouts := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogVehSitData,
		GroupID:     5,
		RequestID:   42,
		Destination: addr,
		Timeout:     time.Second,
	}, nil)

	certID, err := te.Establish(context.Background())
	require.NoError(t, err)
	assert.True(t, certID.IsZero())
	assert.Equal(t, 0, timeouts())

	req := seen.Load()
	require.NotNil(t, req)
	assert.Equal(t, protocol.DialogVehSitData, req.DialogID)
	assert.Equal(t, protocol.SeqServiceRequest, req.SeqID)
	assert.Equal(t, protocol.GroupID(5), req.GroupID)
	assert.Equal(t, protocol.TemporaryID(42), req.RequestID)
	assert.Nil(t, req.ReplyTo)
}

func TestEstablishTrustRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		mutate func(resp *protocol.ServiceResponse) protocol.Message
	}{
		{
			name: "wrong request id",
			kind: KindMalformed,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				resp.RequestID++
				return resp
			},
		},
		{
			name: "wrong dialog id",
			kind: KindMalformed,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				resp.DialogID = protocol.DialogObjReg
				return resp
			},
		},
		{
			name: "expired",
			kind: KindMalformed,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				resp.Expiration = time.Now().Add(-time.Second)
				return resp
			},
		},
		{
			name: "hash of a different request",
			kind: KindCrypto,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				resp.Hash[0] ^= 0xFF
				return resp
			},
		},
		{
			name: "missing hash",
			kind: KindCrypto,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				resp.Hash = nil
				return resp
			},
		},
		{
			name: "wrong message type",
			kind: KindMalformed,
			mutate: func(resp *protocol.ServiceResponse) protocol.Message {
				return &protocol.DataSubscriptionResponse{DialogID: resp.DialogID, RequestID: resp.RequestID}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
				return tt.mutate(acceptTrust(msg.(*protocol.ServiceRequest), raw))
			})

			logger, logs := observedLogger()
			te, err := NewTrustEstablishment(TrustConfig{
				DialogID:    protocol.DialogVehSitData,
				RequestID:   42,
				Destination: addr,
				Attempts:    2,
				Timeout:     time.Second,
			}, protocol.NewBinaryCodec(), nil, logger)
			require.NoError(t, err)

			_, err = te.Establish(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTrustEstablishmentFailed)
			assert.Equal(t, KindExhausted, KindOf(err))
			assert.Equal(t, 2, failedAttempts(logs, tt.kind))

			var de *Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, 2, de.Attempts)
			assert.Equal(t, time.Second, de.Timeout)
		})
	}
}

func TestEstablishTrustTimeouts(t *testing.T) {
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		return nil
	})

	te, timeouts := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogVehSitData,
		RequestID:   1,
		Destination: addr,
		Attempts:    3,
		Timeout:     100 * time.Millisecond,
	}, nil)

	_, err := te.Establish(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrustEstablishmentFailed)
	assert.Equal(t, 3, timeouts())
	assert.Contains(t, err.Error(), "after 3 attempts with 100 ms timeout")
}

func TestEstablishTrustThirdAttemptSucceeds(t *testing.T) {
	var requests atomic.Int32
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		requests.Add(1)
		if n < 3 {
			return nil
		}
		return acceptTrust(msg.(*protocol.ServiceRequest), raw)
	})

	te, timeouts := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogVehSitData,
		RequestID:   1,
		Destination: addr,
		Attempts:    3,
		Timeout:     100 * time.Millisecond,
	}, nil)

	_, err := te.Establish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, timeouts())
	assert.Equal(t, int32(3), requests.Load())
}

func TestEstablishTrustReplyPort(t *testing.T) {
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		return acceptTrust(msg.(*protocol.ServiceRequest), raw)
	})

	replyPort := freePort(t)
	te, _ := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogVehSitData,
		RequestID:   9,
		Destination: addr,
		ReplyTo:     &protocol.ConnectionPoint{Port: uint16(replyPort)},
		Timeout:     time.Second,
	}, nil)

	_, err := te.Establish(context.Background())
	require.NoError(t, err)
}

func TestEstablishTrustSecure(t *testing.T) {
	client, _ := newProvider(t, "Self")
	server, serverCert := newProvider(t, "Service")

	addr := startService(t, server, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		return acceptTrust(msg.(*protocol.ServiceRequest), raw)
	})

	te, _ := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogDataSubscription,
		RequestID:   3,
		Destination: addr,
		Timeout:     time.Second,
		Secure:      true,
	}, client)

	certID, err := te.Establish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, serverCert.ID, certID)
}

func TestEstablishTrustUntrustedResponder(t *testing.T) {
	client, _ := newProvider(t, "Self")
	client.RequireTrusted = true
	server, _ := newProvider(t, "Service")

	addr := startService(t, server, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		return acceptTrust(msg.(*protocol.ServiceRequest), raw)
	})

	logger, logs := observedLogger()
	te, err := NewTrustEstablishment(TrustConfig{
		DialogID:    protocol.DialogDataSubscription,
		RequestID:   3,
		Destination: addr,
		Attempts:    1,
		Timeout:     time.Second,
		Secure:      true,
	}, protocol.NewBinaryCodec(), client, logger)
	require.NoError(t, err)

	_, err = te.Establish(context.Background())
	assert.ErrorIs(t, err, ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, security.ErrUntrustedCertificate)
	assert.Equal(t, 1, failedAttempts(logs, KindCrypto))
}

func TestEstablishTrustSigningFailure(t *testing.T) {
	client, _ := newProvider(t, "Self")
	var received atomic.Int32
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		received.Add(1)
		return nil
	})

	te, attempts := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogDataSubscription,
		RequestID:   3,
		Destination: addr,
		Timeout:     time.Second,
		Secure:      true,
	}, &brokenSigner{Provider: client})

	_, err := te.Establish(context.Background())
	assert.ErrorIs(t, err, ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, security.ErrCrypto)
	assert.Equal(t, KindSigning, KindOf(err))
	assert.False(t, KindOf(err).Retryable())
	assert.Zero(t, attempts())
	assert.Zero(t, received.Load())
}

func TestEstablishTrustContextCancelled(t *testing.T) {
	addr := startService(t, nil, func(n int, msg protocol.Message, raw []byte) protocol.Message {
		return nil
	})

	te, _ := newTrust(t, TrustConfig{
		DialogID:    protocol.DialogVehSitData,
		RequestID:   1,
		Destination: addr,
		Timeout:     5 * time.Second,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := te.Establish(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewTrustEstablishmentInvalid(t *testing.T) {
	codec := protocol.NewBinaryCodec()
	addr := startService(t, nil, func(int, protocol.Message, []byte) protocol.Message { return nil })

	tests := []struct {
		name     string
		cfg      TrustConfig
		provider security.Provider
	}{
		{"missing destination", TrustConfig{}, nil},
		{"secure without provider", TrustConfig{Destination: addr, Secure: true}, nil},
		{"negative attempts", TrustConfig{Destination: addr, Attempts: -1}, nil},
		{"local port out of range", TrustConfig{Destination: addr, LocalPort: 70000}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrustEstablishment(tt.cfg, codec, tt.provider, nil)
			assert.ErrorIs(t, err, ErrInvalidParameters)
			assert.Equal(t, KindInvalidParams, KindOf(err))
		})
	}
}

func TestNewTrustEstablishmentDefaults(t *testing.T) {
	addr := startService(t, nil, func(int, protocol.Message, []byte) protocol.Message { return nil })

	te, err := NewTrustEstablishment(TrustConfig{Destination: addr}, protocol.NewBinaryCodec(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAttempts, te.cfg.Attempts)
	assert.Equal(t, DefaultTimeout, te.cfg.Timeout)
	assert.Equal(t, protocol.DefaultPSID, te.cfg.PSID)
}
