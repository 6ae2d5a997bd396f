package inet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxPacketSize bounds a single datagram read by the forwarder
const DefaultMaxPacketSize = 4096

// ForwarderConfig configures a forwarder node
type ForwarderConfig struct {
	PublicAddr    string // outside traffic, e.g. "[::]:46761"
	InternalAddr  string // relay envelopes from internal services
	Target        Point  // internal service that receives wrapped inbound traffic
	MaxPacketSize int
	SendTimeout   time.Duration
}

// ForwarderStats is a snapshot of forwarder counters
type ForwarderStats struct {
	Inbound   uint64
	Outbound  uint64
	Malformed uint64
	Errors    uint64
	Uptime    time.Duration
}

// Forwarder bridges outside UDP traffic and an internal service.
// Datagrams arriving on the public socket are wrapped with their source and
// sent to Target. Relay envelopes arriving on the internal socket are
// unwrapped and delivered to the destination they name.
type Forwarder struct {
	cfg     ForwarderConfig
	sender  *PacketSender
	logger  *zap.Logger
	metrics *Metrics

	public   *net.UDPConn
	internal *net.UDPConn
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool

	startTime time.Time
	inbound   atomic.Uint64
	outbound  atomic.Uint64
	malformed atomic.Uint64
	failures  atomic.Uint64

	// Callbacks
	OnPacketRelayed func(leg string)
}

// NewForwarder creates a forwarder node; call Start to begin serving
func NewForwarder(cfg ForwarderConfig, logger *zap.Logger, metrics *Metrics) (*Forwarder, error) {
	if !cfg.Target.IsValid() {
		return nil, fmt.Errorf("%w: forwarder target has no address", ErrInvalidParameters)
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	target := cfg.Target
	return &Forwarder{
		cfg:     cfg,
		sender:  NewPacketSender(&target, false, logger, metrics),
		logger:  logger.With(zap.String("component", "forwarder")),
		metrics: metrics,
	}, nil
}

// Start opens both sockets and starts the read loops
func (f *Forwarder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return ErrForwarderStopped
	}
	if f.public != nil {
		return errors.New("forwarder already started")
	}

	public, err := listenUDP(f.cfg.PublicAddr)
	if err != nil {
		return fmt.Errorf("listen public %s: %w", f.cfg.PublicAddr, err)
	}
	internal, err := listenUDP(f.cfg.InternalAddr)
	if err != nil {
		public.Close()
		return fmt.Errorf("listen internal %s: %w", f.cfg.InternalAddr, err)
	}

	f.public = public
	f.internal = internal
	f.startTime = time.Now()
	f.logger.Info("forwarder listening",
		zap.Stringer("public", public.LocalAddr()),
		zap.Stringer("internal", internal.LocalAddr()),
		zap.Stringer("target", f.cfg.Target))

	f.wg.Add(2)
	go f.readLoop(public, f.handleInbound)
	go f.readLoop(internal, f.handleOutbound)
	return nil
}

// Stop closes both sockets and waits for the read loops to exit. A stopped
// forwarder cannot be started again.
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	public, internal := f.public, f.internal
	f.mu.Unlock()

	if public == nil {
		return nil
	}
	err := errors.Join(public.Close(), internal.Close())
	f.wg.Wait()
	return err
}

// PublicAddr returns the bound public socket address, nil before Start
func (f *Forwarder) PublicAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.public == nil {
		return nil
	}
	return f.public.LocalAddr()
}

// InternalAddr returns the bound internal socket address, nil before Start
func (f *Forwarder) InternalAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.internal == nil {
		return nil
	}
	return f.internal.LocalAddr()
}

// Stats returns current counters
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.Lock()
	started := f.startTime
	f.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started)
	}
	return ForwarderStats{
		Inbound:   f.inbound.Load(),
		Outbound:  f.outbound.Load(),
		Malformed: f.malformed.Load(),
		Errors:    f.failures.Load(),
		Uptime:    uptime,
	}
}

func (f *Forwarder) readLoop(conn *net.UDPConn, handle func(src Point, data []byte)) {
	defer f.wg.Done()

	buf := make([]byte, f.cfg.MaxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.logger.Warn("read failed", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handle(PointFromUDPAddr(addr), data)
	}
}

func (f *Forwarder) handleInbound(src Point, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
	defer cancel()

	if err := f.sender.ForwardInbound(ctx, src, data); err != nil {
		f.failures.Add(1)
		f.logger.Warn("inbound forward failed", zap.Stringer("src", src), zap.Error(err))
		return
	}
	f.inbound.Add(1)
	f.metrics.forwarded("inbound")
	f.logger.Debug("inbound datagram forwarded", zap.Stringer("src", src), zap.Int("size", len(data)))
	if f.OnPacketRelayed != nil {
		f.OnPacketRelayed("inbound")
	}
}

func (f *Forwarder) handleOutbound(src Point, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
	defer cancel()

	if err := f.sender.SendBundle(ctx, data); err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			f.malformed.Add(1)
		} else {
			f.failures.Add(1)
		}
		f.logger.Warn("outbound delivery failed", zap.Stringer("src", src), zap.Error(err))
		return
	}
	f.outbound.Add(1)
	f.metrics.forwarded("outbound")
	if f.OnPacketRelayed != nil {
		f.OnPacketRelayed("outbound")
	}
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}
