package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/config"
	"github.com/ZentaChain/cvcomm/pkg/inet"
	"github.com/ZentaChain/cvcomm/pkg/logging"
)

const statsInterval = 5 * time.Minute

var (
	configPath   = flag.String("config", "", "Path to config file")
	publicAddr   = flag.String("public", "", "Address for outside traffic (overrides forwarder.public_addr)")
	internalAddr = flag.String("internal", "", "Address for relay envelopes from internal services (overrides forwarder.internal_addr)")
	target       = flag.String("target", "", "Internal service as host:port or multiaddr (overrides forwarder.target)")
	metricsAddr  = flag.String("metrics", ":9102", "Address for the Prometheus metrics endpoint, empty to disable")
	verbose      = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *publicAddr != "" {
		cfg.Forwarder.PublicAddr = *publicAddr
	}
	if *internalAddr != "" {
		cfg.Forwarder.InternalAddr = *internalAddr
	}
	if *target != "" {
		cfg.Forwarder.Target = *target
	}
	if *verbose {
		cfg.Log.Level = logging.Verbose(true)
	}

	if cfg.Forwarder.Target == "" {
		log.Fatal("Error: -target flag or forwarder.target is required")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	targetPoint, err := inet.ParsePoint(cfg.Forwarder.Target)
	if err != nil {
		log.Fatalf("Invalid target: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := inet.NewMetrics(reg)

	fwd, err := inet.NewForwarder(inet.ForwarderConfig{
		PublicAddr:   cfg.Forwarder.PublicAddr,
		InternalAddr: cfg.Forwarder.InternalAddr,
		Target:       targetPoint,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to create forwarder: %v", err)
	}

	fwd.OnPacketRelayed = func(leg string) {
		logger.Debug("packet relayed", zap.String("leg", leg))
	}

	if err := fwd.Start(); err != nil {
		log.Fatalf("Failed to start forwarder: %v", err)
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = startMetrics(*metricsAddr, reg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go statsLoop(ctx, fwd, logger)

	printStatus(fwd, targetPoint)

	waitForShutdown(cancel, fwd, metricsServer)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║          Connected-Vehicle UDP Forwarder          ║")
	fmt.Println("║   Relays datagrams between vehicles and services  ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func startMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func statsLoop(ctx context.Context, fwd *inet.Forwarder, logger *zap.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := fwd.Stats()
		logger.Info("forwarder stats",
			zap.Uint64("inbound", stats.Inbound),
			zap.Uint64("outbound", stats.Outbound),
			zap.Uint64("malformed", stats.Malformed),
			zap.Uint64("errors", stats.Errors),
			zap.Duration("uptime", stats.Uptime))
	}
}

func printStatus(fwd *inet.Forwarder, target inet.Point) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Forwarder Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: RUNNING\n")
	fmt.Printf("   Public: %s\n", fwd.PublicAddr())
	fmt.Printf("   Internal: %s\n", fwd.InternalAddr())
	fmt.Printf("   Target: %s\n", target)
	if *metricsAddr != "" {
		fmt.Printf("   Metrics: %s/metrics\n", *metricsAddr)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(cancel context.CancelFunc, fwd *inet.Forwarder, metricsServer *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")
	cancel()

	if metricsServer != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
		done()
	}

	if err := fwd.Stop(); err != nil {
		log.Printf("Error stopping forwarder: %v", err)
	}

	stats := fwd.Stats()
	log.Printf("✓ Forwarder stopped (inbound %d, outbound %d, malformed %d)", stats.Inbound, stats.Outbound, stats.Malformed)
}
