package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/bundle"
	"github.com/ZentaChain/cvcomm/pkg/storage"
)

// bundleSender is satisfied by *inet.BundleSender
type bundleSender interface {
	Send(ctx context.Context, host string, port int, payload []byte, fromForwarder bool) error
}

// receiptSender is satisfied by *receipt.Sender
type receiptSender interface {
	SendID(ctx context.Context, receiptID string) error
}

// deliverer moves queued bundles to their destinations and acknowledges
// each delivery with a receipt
type deliverer struct {
	sender   bundleSender
	receipts receiptSender // nil disables receipts
	logger   *zap.Logger
}

func (d *deliverer) deliver(ctx context.Context, b *bundle.WireBundle) error {
	if err := d.sender.Send(ctx, b.DestHost, int(b.DestPort), b.Payload, b.FromForwarder); err != nil {
		return err
	}

	d.logger.Debug("bundle delivered",
		zap.String("receipt_id", b.ReceiptID),
		zap.String("dest_host", b.DestHost),
		zap.Int32("dest_port", b.DestPort))

	// The datagram is already out; a lost receipt must not requeue it.
	if d.receipts != nil {
		if err := d.receipts.SendID(ctx, b.ReceiptID); err != nil {
			d.logger.Warn("receipt not published", zap.String("receipt_id", b.ReceiptID), zap.Error(err))
		}
	}
	return nil
}

const defaultDrainInterval = 5 * time.Second

// drainLoop drains the queue every interval until ctx is done
func (d *deliverer) drainLoop(ctx context.Context, queue *storage.BundleQueue, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := queue.Drain(ctx, batch, d.deliver)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("queue drain failed", zap.Error(err))
		}
		if n > 0 {
			d.logger.Info("bundles delivered", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
