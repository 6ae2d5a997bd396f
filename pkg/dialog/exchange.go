package dialog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/security"
)

// exchange sends one encoded request and retries until a reply passes
// validate, a terminal error occurs or the attempts run out
type exchange struct {
	op        string
	failed    error // sentinel returned when attempts run out
	dst       *net.UDPAddr
	localPort int
	replyPort int
	attempts  int
	timeout   time.Duration
	maxSize   int
	payload   []byte

	secure   bool
	provider security.Provider
	codec    protocol.Codec
	logger   *zap.Logger

	validate func(msg protocol.Message, signer *security.Certificate) error
}

func (x *exchange) run(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= x.attempts; attempt++ {
		err := x.attempt(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", x.op, ctxErr)
		}

		kind := KindOf(err)
		if !kind.Retryable() {
			de, ok := err.(*Error)
			if !ok {
				return fmt.Errorf("%s: %w", x.op, err)
			}
			if de.Op == "" {
				de.Op = x.op
			}
			return de
		}

		x.logger.Warn("attempt failed",
			zap.String("op", x.op),
			zap.Int("attempt", attempt),
			zap.Int("attempts", x.attempts),
			zap.Stringer("kind", kind),
			zap.Error(err))
		last = err
	}

	return &Error{
		Op:       x.op,
		Kind:     KindExhausted,
		Attempts: x.attempts,
		Timeout:  x.timeout,
		Err:      x.failed,
		Cause:    last,
	}
}

func (x *exchange) attempt(ctx context.Context) error {
	socks, err := openSockets(x.localPort, x.replyPort)
	if err != nil {
		return attemptError(KindSocket, "%w", err)
	}
	defer socks.Close()

	x.logger.Debug("sending datagram",
		zap.String("op", x.op),
		zap.Stringer("to", x.dst),
		zap.Bool("signed", x.secure),
		zap.Int("size", len(x.payload)))

	data, from, err := socks.exchange(ctx, x.payload, x.dst, x.timeout, x.maxSize)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &Error{Kind: classify(err), Cause: err}
	}

	x.logger.Debug("received datagram",
		zap.String("op", x.op),
		zap.Stringer("from", from),
		zap.Int("size", len(data)))

	if len(data) == 0 {
		return attemptError(KindMalformed, "empty datagram")
	}

	var signer *security.Certificate
	if x.secure {
		if data, signer, err = x.provider.ParseSigned(data); err != nil {
			return attemptError(KindCrypto, "parse signed response: %w", err)
		}
	}

	msg, err := x.codec.Decode(data)
	if err != nil {
		return attemptError(KindMalformed, "%w", err)
	}

	return x.validate(msg, signer)
}
