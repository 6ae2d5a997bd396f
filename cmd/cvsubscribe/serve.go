package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/api"
	"github.com/ZentaChain/cvcomm/pkg/dialog"
	"github.com/ZentaChain/cvcomm/pkg/inet"
	"github.com/ZentaChain/cvcomm/pkg/receipt"
	"github.com/ZentaChain/cvcomm/pkg/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	sub, err := newSubscription(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := inet.NewMetrics(reg)

	if err := os.MkdirAll(filepath.Dir(cfg.Queue.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	queue, err := storage.NewBundleQueue(cfg.Queue.Path, cfg.Queue.TTL, logger)
	if err != nil {
		return err
	}
	defer queue.Close()
	logger.Info("bundle queue opened", zap.String("path", cfg.Queue.Path), zap.Duration("ttl", cfg.Queue.TTL))

	sender, err := inet.NewBundleSender(ctx, cfg.Forwarder.BundleSenderConfig(), logger, metrics)
	if err != nil {
		return err
	}

	d := &deliverer{sender: sender, logger: logger.With(zap.String("component", "delivery"))}

	if cfg.Receipts.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Receipts.Addr,
			Password: cfg.Receipts.Password,
			DB:       cfg.Receipts.DB,
		})
		defer client.Close()

		rs, err := receipt.NewSender(client, receipt.DefaultSenderConfig(cfg.Receipts.Topic), logger)
		if err != nil {
			return err
		}
		d.receipts = rs

		receiver, err := receipt.NewReceiver(cfg.Receipts.Topic, 0, func(ctx context.Context, receipts []*receipt.Receipt) {
			for _, r := range receipts {
				logger.Info("delivery acknowledged", zap.String("receipt_id", r.ReceiptID))
			}
		}, logger)
		if err != nil {
			return err
		}
		if err := receiver.Start(ctx, client); err != nil {
			return fmt.Errorf("receipt receiver: %w", err)
		}
		defer receiver.Stop()
		logger.Info("receipts enabled", zap.String("addr", cfg.Receipts.Addr), zap.String("topic", cfg.Receipts.Topic))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.drainLoop(ctx, queue, cfg.Queue.DrainInterval, cfg.Queue.BatchSize)
	}()

	if cfg.API.Enabled {
		server, err := api.NewServer(sub, queue, reg, &api.Config{
			Port:           cfg.API.Port,
			EnableCORS:     cfg.API.EnableCORS,
			RateLimit:      cfg.API.RateLimit,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			RequestTimeout: apiRequestTimeout(cfg.Subscription.Attempts, cfg.Subscription.TimeoutMS),
		}, logger)
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return err
		}
	} else {
		logger.Info("HTTP API disabled; delivering queued bundles only")
		<-ctx.Done()
	}

	wg.Wait()
	logger.Info("stopped")
	return nil
}

// apiRequestTimeout bounds one subscribe or cancel call: a trust exchange and
// a request exchange, each retried attempts times, plus slack.
func apiRequestTimeout(attempts, timeoutMS int) time.Duration {
	if attempts <= 0 {
		attempts = dialog.DefaultAttempts
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = dialog.DefaultTimeout
	}
	return 2*time.Duration(attempts)*timeout + 5*time.Second
}
