// Package server exposes the dashboard HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gnb-webdashboard/gnbdash/internal/commission"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
)

// ActionRunner runs supervised actions.
type ActionRunner interface {
	Run(ctx context.Context, req supervisor.Request) (supervisor.Outcome, error)
}

// ConfigEnsurer makes sure the device config exists, generating it if not.
type ConfigEnsurer interface {
	EnsureConfig(ctx context.Context, command string) (*commission.Result, error)
}

// Prober reads node status and host statistics.
type Prober interface {
	NodeStatus(ctx context.Context) telemetry.NodeStatus
	Host(ctx context.Context) (telemetry.HostStats, error)
	Ping(ctx context.Context, host string) telemetry.Connection
}

// Options configures the HTTP server.
type Options struct {
	Addr            string
	AllowedOrigins  []string
	ConfigPath      string
	Generator       string
	Downloads       map[string]string
	ShutdownTimeout time.Duration
}

// Server is the dashboard API server.
type Server struct {
	opts    Options
	actions ActionRunner
	ensurer ConfigEnsurer
	probe   Prober
	metrics http.Handler
	logger  *slog.Logger

	router *gin.Engine
	srv    *http.Server

	mu        sync.RWMutex
	downloads map[string]string

	// Serialises config generation between concurrent requests.
	ensureMu sync.Mutex

	// life bounds actions and config generation. It ends at shutdown, not
	// when a client goes away.
	life context.Context
	stop context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the server and its routes.
func New(opts Options, actions ActionRunner, ensurer ConfigEnsurer, probe Prober, options ...Option) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:    opts,
		actions: actions,
		ensurer: ensurer,
		probe:   probe,
		logger:  slog.New(slog.DiscardHandler),
	}
	s.life, s.stop = context.WithCancel(context.Background())
	for _, o := range options {
		o(s)
	}
	s.SetDownloads(opts.Downloads)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), cors(opts.AllowedOrigins))
	s.router = router
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.POST("/setup_script", s.handleSetupScript)
	api.GET("/node_status", s.handleNodeStatus)
	api.GET("/attributes", s.handleAttributes)
	api.POST("/config", s.handleSetConfig)
	api.GET("/download/:key", s.handleDownload)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetDownloads replaces the download key map.
func (s *Server) SetDownloads(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.mu.Lock()
	s.downloads = cp
	s.mu.Unlock()
}

func (s *Server) downloadPath(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.downloads[key]
	return p, ok
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.stop()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	s.stop()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// cors allows browser access to /api from the given origins ("*" for any).
func cors(origins []string) gin.HandlerFunc {
	anyOrigin := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || allowed[origin]) {
			if anyOrigin {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// detach returns a context for work started by a request that outlives the
// client connection. It keeps the request's values and is cancelled only
// when the server shuts down.
func (s *Server) detach(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	unhook := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		unhook()
		cancel()
	}
}
