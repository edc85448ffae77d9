package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/roelfdiedericks/xai-go"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// safeInt32 converts int to int32 with bounds checking to prevent overflow.
func safeInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int32(n)
}

// XAIProvider talks to xAI's Grok gRPC API. Clients hold a connection, so
// one is kept per credential and released by Close.
type XAIProvider struct {
	opts   Options
	probes *probeCache

	mu      sync.Mutex
	clients map[string]*xai.Client
}

// NewXAIProvider returns the adapter for KindXAI.
func NewXAIProvider(opts Options) *XAIProvider {
	opts = opts.normalized()
	return &XAIProvider{
		opts:    opts,
		probes:  newProbeCache(opts.ProbeTTL, opts.ProbeTimeout),
		clients: make(map[string]*xai.Client),
	}
}

func (p *XAIProvider) Kind() Kind { return KindXAI }

// getClient returns the client for cfg's credential, creating it lazily.
func (p *XAIProvider) getClient(cfg ModelConfig) (*xai.Client, error) {
	key := probeKey(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	client, err := xai.New(xai.Config{
		Endpoint: cfg.Endpoint,
		APIKey:   xai.NewSecureString(cfg.Credential),
		Timeout:  p.opts.RemoteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create xai client: %w", err)
	}
	p.clients[key] = client
	L_debug("xai: client initialized", "endpoint", cfg.Endpoint)
	return client, nil
}

// Generate sends a single user message. Temperature is not forwarded.
func (p *XAIProvider) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	client, err := p.getClient(cfg)
	if err != nil {
		return "", newProviderError(cfg, 0, "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.RemoteTimeout)
	defer cancel()

	params := Params{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}.normalized()
	req := xai.NewChatRequest().
		WithModel(cfg.Name).
		WithMaxTokens(safeInt32(params.MaxTokens))
	req.UserMessage(xai.UserContent{Text: prompt})

	start := time.Now()
	resp, err := client.CompleteChat(ctx, req)
	if err != nil {
		pe := p.mapError(cfg, err)
		L_warn("xai: request failed", "model", cfg.Name, "type", pe.Type, "error", err)
		return "", pe
	}
	if resp.Content == "" {
		return "", &ProviderError{Kind: KindXAI, Model: cfg.Name, Type: ErrorTypeEmptyResponse, Body: "empty completion"}
	}

	L_debug("xai: request completed", "model", cfg.Name,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"inputTokens", resp.Usage.PromptTokens,
		"outputTokens", resp.Usage.CompletionTokens,
		"responseChars", len(resp.Content))
	return resp.Content, nil
}

// xaiStatus gives the HTTP status equivalent to an xai error code so gRPC
// failures classify the same way as the HTTP adapters.
var xaiStatus = map[xai.ErrorCode]int{
	xai.ErrAuth:              http.StatusUnauthorized,
	xai.ErrRateLimit:         http.StatusTooManyRequests,
	xai.ErrResourceExhausted: http.StatusTooManyRequests,
	xai.ErrInvalidRequest:    http.StatusBadRequest,
	xai.ErrNotFound:          http.StatusNotFound,
	xai.ErrServerError:       http.StatusInternalServerError,
	xai.ErrUnavailable:       http.StatusServiceUnavailable,
	xai.ErrTimeout:           http.StatusGatewayTimeout,
}

func (p *XAIProvider) mapError(cfg ModelConfig, err error) *ProviderError {
	var xaiErr *xai.Error
	if errors.As(err, &xaiErr) {
		return newProviderError(cfg, xaiStatus[xaiErr.Code], xaiErr.Message, err)
	}
	return newProviderError(cfg, 0, "", err)
}

// CheckAvailable requires an API key and a successful model listing.
func (p *XAIProvider) CheckAvailable(ctx context.Context, cfg ModelConfig) error {
	if err := requireCredential(cfg); err != nil {
		return err
	}
	err := p.probes.check(ctx, probeKey(cfg), func(ctx context.Context) error {
		client, err := p.getClient(cfg)
		if err != nil {
			return err
		}
		_, err = client.ListModels(ctx)
		return err
	})
	if err != nil {
		return &UnavailableError{Kind: KindXAI, Model: cfg.Name, Reason: "probe failed", Cause: err}
	}
	return nil
}

// Close releases every cached client.
func (p *XAIProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, client := range p.clients {
		if c, ok := any(client).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(p.clients, key)
	}
	return errors.Join(errs...)
}
