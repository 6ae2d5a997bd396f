package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the part of a redis client the sender needs
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// SenderConfig controls publishing retries
type SenderConfig struct {
	Topic           string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultSenderConfig returns the default retry settings for topic
func DefaultSenderConfig(topic string) SenderConfig {
	return SenderConfig{
		Topic:           topic,
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Sender publishes receipts to a redis channel, retrying with exponential
// backoff while the broker is unreachable.
type Sender struct {
	client Publisher
	cfg    SenderConfig
	logger *zap.Logger
}

// NewSender creates a sender publishing on cfg.Topic
func NewSender(client Publisher, cfg SenderConfig, logger *zap.Logger) (*Sender, error) {
	if client == nil {
		return nil, errors.New("receipt sender: nil client")
	}
	if cfg.Topic == "" {
		return nil, errors.New("receipt sender: empty topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "receipt-sender"), zap.String("topic", cfg.Topic)),
	}, nil
}

// Send publishes r, retrying transient failures
func (s *Sender) Send(ctx context.Context, r *Receipt) error {
	if r == nil || r.ReceiptID == "" {
		return ErrMissingReceiptID
	}
	record := r.Record()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialInterval
	exp.MaxInterval = s.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, s.cfg.MaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return s.client.Publish(ctx, s.cfg.Topic, record).Err()
	}, policy)
	if err != nil {
		s.logger.Warn("receipt publish failed",
			zap.String("receipt_id", r.ReceiptID),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return fmt.Errorf("publish receipt %s: %w", r.ReceiptID, err)
	}

	s.logger.Debug("receipt published", zap.String("receipt_id", r.ReceiptID), zap.Int("attempts", attempt))
	return nil
}

// SendID is Send for a bare receipt id
func (s *Sender) SendID(ctx context.Context, receiptID string) error {
	r, err := New(receiptID)
	if err != nil {
		return err
	}
	return s.Send(ctx, r)
}
