package inet

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BundleSenderConfig names the forwarder a BundleSender may relay through
type BundleSenderConfig struct {
	ForwarderHost string
	ForwarderPort int
	ForwardAll    bool
}

// ForwarderConfigured reports whether host and port describe a usable remote
// forwarder. Loopback names are treated as "no forwarder".
func ForwarderConfigured(host string, port int) bool {
	if host == "" || strings.EqualFold(host, "localhost") || host == "127.0.0.1" {
		return false
	}
	return port >= 0 && port <= 65535
}

// BundleSender delivers payloads to host/port targets, relaying through the
// configured forwarder when the route calls for it.
type BundleSender struct {
	cfg        BundleSenderConfig
	configured bool
	sender     *PacketSender
	logger     *zap.Logger
}

// NewBundleSender resolves the forwarder (when configured) and builds the sender
func NewBundleSender(ctx context.Context, cfg BundleSenderConfig, logger *zap.Logger, metrics *Metrics) (*BundleSender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bs := &BundleSender{
		cfg:        cfg,
		configured: ForwarderConfigured(cfg.ForwarderHost, cfg.ForwarderPort),
		logger:     logger.With(zap.String("component", "bundle-sender")),
	}

	var fwd *Point
	if bs.configured {
		p, err := ResolvePoint(ctx, cfg.ForwarderHost, cfg.ForwarderPort)
		if err != nil {
			return nil, fmt.Errorf("forwarder: %w", err)
		}
		fwd = &p
		bs.logger.Info("forwarder configured",
			zap.Stringer("forwarder", p),
			zap.Bool("forward_all", cfg.ForwardAll))
	}
	bs.sender = NewPacketSender(fwd, cfg.ForwardAll, logger, metrics)
	return bs, nil
}

// ForwarderConfigured reports whether sends may relay
func (bs *BundleSender) ForwarderConfigured() bool {
	return bs.configured
}

// Config returns the configuration the sender was built with
func (bs *BundleSender) Config() BundleSenderConfig {
	return bs.cfg
}

// Send resolves host and delivers payload to host:port
func (bs *BundleSender) Send(ctx context.Context, host string, port int, payload []byte, fromForwarder bool) error {
	dst, err := ResolvePoint(ctx, host, port)
	if err != nil {
		return err
	}
	return bs.sender.Forward(ctx, dst, payload, fromForwarder)
}
