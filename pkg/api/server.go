// Package api provides the HTTP control API for the subscription client
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/bundle"
	"github.com/ZentaChain/cvcomm/pkg/dialog"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/storage"
)

// Subscriber is the subscription engine driven by the API
type Subscriber interface {
	Subscribe(ctx context.Context) (protocol.TemporaryID, error)
	Cancel(ctx context.Context, id protocol.TemporaryID) error
	SubscriptionID() (protocol.TemporaryID, bool)
	RequestID() protocol.TemporaryID
	State() dialog.State
}

// BundleQueue is the queue the API enqueues outbound bundles on
type BundleQueue interface {
	Enqueue(b *bundle.WireBundle) error
	Stats() (*storage.QueueStats, error)
}

// Server is the HTTP API server
type Server struct {
	subscriber Subscriber
	queue      BundleQueue
	gatherer   prometheus.Gatherer
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
	limiter    *RateLimiter
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Port           int
	EnableCORS     bool
	RateLimit      int // Requests per minute, 0 disables limiting
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // bound on a subscribe or cancel exchange
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		EnableCORS:     true,
		RateLimit:      100,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		RequestTimeout: 45 * time.Second,
	}
}

// NewServer creates the API server. queue and gatherer may be nil, which
// disables the bundle and metrics endpoints.
func NewServer(subscriber Subscriber, queue BundleQueue, gatherer prometheus.Gatherer, config *Config, logger *zap.Logger) (*Server, error) {
	if subscriber == nil {
		return nil, errors.New("api: subscriber is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		subscriber: subscriber,
		queue:      queue,
		gatherer:   gatherer,
		router:     gin.New(),
		config:     config,
		logger:     logger.With(zap.String("component", "api")),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if s.config.RateLimit > 0 {
		s.limiter = NewRateLimiter(s.config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		sub := v1.Group("/subscription")
		{
			sub.GET("", s.handleStatus)
			sub.POST("", s.handleSubscribe)
			sub.DELETE("/:id", s.handleCancel)
		}

		if s.queue != nil {
			v1.POST("/bundles", s.handleEnqueue)
			v1.GET("/queue/stats", s.handleQueueStats)
		}
	}

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.router.GET("/health", s.handleHealth)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API server starting", zap.Int("port", s.config.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return err
}
