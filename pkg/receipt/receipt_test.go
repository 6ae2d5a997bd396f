package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReceiptRecord(t *testing.T) {
	r, err := New("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	require.NoError(t, err)
	assert.Equal(t, `{"receiptId":"1b4e28ba-2fa1-11d2-883f-0016d3cca427"}`, r.Record())

	parsed, err := Parse(r.Record())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)

	_, err = New("")
	assert.ErrorIs(t, err, ErrMissingReceiptID)

	_, err = Parse("{not json")
	assert.ErrorIs(t, err, ErrMalformedReceipt)

	empty, err := Parse(`{"other":1}`)
	require.NoError(t, err)
	assert.Empty(t, empty.ReceiptID)
}

type fakePublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	p.published = append(p.published, channel+" "+message.(string))
	return redis.NewIntResult(1, nil)
}

func fastConfig(topic string, retries uint64) SenderConfig {
	return SenderConfig{Topic: topic, MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestSenderPublishes(t *testing.T) {
	pub := &fakePublisher{}
	s, err := NewSender(pub, fastConfig("receipts", 3), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.SendID(context.Background(), "abc"))
	assert.Equal(t, []string{`receipts {"receiptId":"abc"}`}, pub.published)
}

func TestSenderRetriesUntilBrokerAnswers(t *testing.T) {
	pub := &fakePublisher{failFirst: 2}
	s, err := NewSender(pub, fastConfig("receipts", 3), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.SendID(context.Background(), "abc"))
	assert.Equal(t, 3, pub.calls)
	assert.Len(t, pub.published, 1)
}

func TestSenderGivesUp(t *testing.T) {
	pub := &fakePublisher{failFirst: 100}
	s, err := NewSender(pub, fastConfig("receipts", 2), zaptest.NewLogger(t))
	require.NoError(t, err)

	err = s.SendID(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, pub.calls)
}

func TestSenderStopsOnCancel(t *testing.T) {
	pub := &fakePublisher{failFirst: 100}
	s, err := NewSender(pub, SenderConfig{Topic: "receipts", MaxRetries: 50, InitialInterval: time.Hour, MaxInterval: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.Error(t, s.SendID(ctx, "abc"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSenderValidation(t *testing.T) {
	_, err := NewSender(nil, DefaultSenderConfig("t"), nil)
	assert.Error(t, err)
	_, err = NewSender(&fakePublisher{}, DefaultSenderConfig(""), nil)
	assert.Error(t, err)

	s, err := NewSender(&fakePublisher{}, DefaultSenderConfig("t"), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Send(context.Background(), nil), ErrMissingReceiptID)
	assert.ErrorIs(t, s.SendID(context.Background(), ""), ErrMissingReceiptID)
}

func TestReceiverBatches(t *testing.T) {
	var mu sync.Mutex
	var got []string
	process := func(_ context.Context, batch []*Receipt) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range batch {
			got = append(got, r.ReceiptID)
		}
	}

	r, err := NewReceiver("receipts", time.Hour, process, zaptest.NewLogger(t))
	require.NoError(t, err)

	messages := make(chan *redis.Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	r.run(ctx, cancel, messages)

	messages <- &redis.Message{Channel: "receipts", Payload: `{"receiptId":"a"}`}
	messages <- &redis.Message{Channel: "receipts", Payload: `garbage`}
	messages <- &redis.Message{Channel: "receipts", Payload: `{"receiptId":"b"}`}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, uint64(2), r.Received())
}

func TestReceiverFlushesOnStop(t *testing.T) {
	processed := make(chan int, 4)
	r, err := NewReceiver("receipts", time.Hour, func(_ context.Context, batch []*Receipt) {
		processed <- len(batch)
	}, nil)
	require.NoError(t, err)

	r.accept(`{"receiptId":"late"}`)
	// drain the wake-up so only Stop can trigger processing
	<-r.wake

	ctx, cancel := context.WithCancel(context.Background())
	r.run(ctx, cancel, make(chan *redis.Message))
	require.NoError(t, r.Stop())

	select {
	case n := <-processed:
		assert.Equal(t, 1, n)
	default:
		t.Fatal("pending receipts not processed on stop")
	}
}

func TestNewReceiverValidation(t *testing.T) {
	_, err := NewReceiver("", 0, func(context.Context, []*Receipt) {}, nil)
	assert.Error(t, err)
	_, err = NewReceiver("t", 0, nil, nil)
	assert.Error(t, err)

	r, err := NewReceiver("t", 0, func(context.Context, []*Receipt) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessInterval, r.interval)
	assert.NoError(t, r.Stop())
}
