package receipt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultProcessInterval is how often the worker runs without a wake-up
const DefaultProcessInterval = 2 * time.Second

// ProcessFunc handles a batch of received receipts
type ProcessFunc func(ctx context.Context, receipts []*Receipt)

// Subscriber is the part of a redis client the receiver needs
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Receiver collects receipts from a redis channel and hands them to a worker
// in batches. The worker runs when a receipt arrives and at least every
// interval.
type Receiver struct {
	topic    string
	process  ProcessFunc
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	pending  []*Receipt
	received uint64
	wake     chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	pubsub *redis.PubSub
}

// NewReceiver creates a receiver for topic. A zero interval selects
// DefaultProcessInterval.
func NewReceiver(topic string, interval time.Duration, process ProcessFunc, logger *zap.Logger) (*Receiver, error) {
	if topic == "" {
		return nil, errors.New("receipt receiver: empty topic")
	}
	if process == nil {
		return nil, errors.New("receipt receiver: nil process func")
	}
	if interval <= 0 {
		interval = DefaultProcessInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		topic:    topic,
		process:  process,
		interval: interval,
		logger:   logger.With(zap.String("component", "receipt-receiver"), zap.String("topic", topic)),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Start subscribes to the topic and starts the worker
func (r *Receiver) Start(ctx context.Context, client Subscriber) error {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := client.Subscribe(ctx, r.topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return err
	}
	r.pubsub = pubsub
	r.logger.Info("receipt receiver subscribed")

	r.run(ctx, cancel, pubsub.Channel())
	return nil
}

// run starts the consumer and worker goroutines over messages
func (r *Receiver) run(ctx context.Context, cancel context.CancelFunc, messages <-chan *redis.Message) {
	r.cancel = cancel
	r.wg.Add(2)
	go r.consume(ctx, messages)
	go r.work(ctx)
}

// Stop ends the subscription and waits for the worker to finish.
// Receipts still pending are processed once more before Stop returns.
func (r *Receiver) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	var err error
	if r.pubsub != nil {
		err = r.pubsub.Close()
	}
	r.wg.Wait()
	return err
}

// Received returns the number of receipts accepted so far
func (r *Receiver) Received() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

func (r *Receiver) consume(ctx context.Context, messages <-chan *redis.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.accept(msg.Payload)
		}
	}
}

func (r *Receiver) accept(record string) {
	rc, err := Parse(record)
	if err != nil {
		r.logger.Warn("ignoring malformed receipt", zap.String("record", record), zap.Error(err))
		return
	}

	r.mu.Lock()
	r.pending = append(r.pending, rc)
	r.received++
	r.mu.Unlock()

	r.logger.Debug("receipt received", zap.String("receipt_id", rc.ReceiptID))
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Receiver) work(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
		case <-r.wake:
		}
		r.flush(ctx)
	}
}

func (r *Receiver) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) > 0 {
		r.process(ctx, batch)
	}
}
