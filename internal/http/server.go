// Package http exposes the generation layer over a small JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/roelfdiedericks/kaitiaki/internal/llm"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/metrics"
)

// Orchestrator is the part of *llm.Orchestrator the API needs.
type Orchestrator interface {
	GenerateWithFallback(ctx context.Context, prompt, preferred string) (*llm.Result, error)
	ListAvailableModels(ctx context.Context) []string
	Status(ctx context.Context) llm.Status
	SetPreferredModel(ctx context.Context, name string) bool
	SwitchProvider(ctx context.Context, kind llm.Kind) bool
	Reload() []llm.ConfigurationError
}

// MetricsSource provides the metrics snapshot. *metrics.Manager satisfies it.
type MetricsSource interface {
	Snapshot() map[string]*metrics.Snapshot
}

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	orch        Orchestrator
	metrics     MetricsSource
	token       string
	proxies     []netip.Prefix
	rateLimiter *RateLimiter
	generateTTL time.Duration
	wg          sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen    string  // Address to listen on (e.g., ":8787", "127.0.0.1:8787")
	Token     string  // Bearer token; empty disables auth
	RateLimit float64 // Requests per second per client; 0 disables limiting
	Burst     int

	// Peers allowed to set X-Forwarded-For / X-Real-IP, as IPs or CIDRs.
	// Empty means client addresses always come from the connection.
	TrustedProxies []string

	// GenerateTimeout bounds one /api/generate call, fallback included.
	// 0 means DefaultGenerateTimeout.
	GenerateTimeout time.Duration
}

// DefaultGenerateTimeout bounds a generate request when none is configured.
const DefaultGenerateTimeout = 5 * time.Minute

// writeMargin is left between the generate deadline and WriteTimeout so the
// error response can still be written.
const writeMargin = 15 * time.Second

// NewServer creates a new HTTP server instance. m may be nil.
func NewServer(cfg *ServerConfig, orch Orchestrator, m MetricsSource) (*Server, error) {
	if orch == nil {
		return nil, errors.New("http: orchestrator is required")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":8787"
	}

	proxies, err := parseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	generateTTL := cfg.GenerateTimeout
	if generateTTL <= 0 {
		generateTTL = DefaultGenerateTimeout
	}

	s := &Server{
		orch:        orch,
		metrics:     m,
		token:       cfg.Token,
		proxies:     proxies,
		generateTTL: generateTTL,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, burst, 10*time.Minute)
	}
	if s.token == "" {
		L_warn("http: no token configured, API is unauthenticated", "listen", listen)
	}

	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      generateTTL + writeMargin,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return chain(h, s.requestID, s.logRequest, s.securityHeaders, s.rateLimit, s.bearerAuth)
	}

	mux.HandleFunc("POST /api/generate", api(s.handleGenerate))
	mux.HandleFunc("GET /api/models", api(s.handleModels))
	mux.HandleFunc("GET /api/status", api(s.handleStatus))
	mux.HandleFunc("POST /api/preferred", api(s.handlePreferred))
	mux.HandleFunc("POST /api/provider", api(s.handleProvider))
	mux.HandleFunc("POST /api/reload", api(s.handleReload))
	mux.HandleFunc("GET /api/metrics", api(s.handleMetrics))

	// health is open so load balancers need no token
	mux.HandleFunc("GET /healthz", chain(s.handleHealth, s.requestID, s.securityHeaders))

	return mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start binds the listen address and serves in the background. Bind
// errors are returned here.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.server.Addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return fmt.Errorf("http shutdown: %w", err)
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}
