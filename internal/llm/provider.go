// Package llm implements the provider registry, adapters and the fallback
// orchestrator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider is one adapter per Kind. Adapters hold no per-request state:
// everything a call needs arrives in ModelConfig. Safe for concurrent use.
type Provider interface {
	Kind() Kind

	// Generate performs one single-turn completion. Failures are
	// *ProviderError.
	Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error)

	// CheckAvailable returns nil when cfg is configured and its endpoint
	// answered a reachability probe, else an *UnavailableError.
	CheckAvailable(ctx context.Context, cfg ModelConfig) error
}

// Providers is the closed set of adapters, one slot per Kind.
type Providers struct {
	OpenAI    Provider
	Ollama    Provider
	Anthropic Provider
	Azure     Provider
	XAI       Provider
}

// For resolves the adapter for kind.
func (p Providers) For(kind Kind) (Provider, error) {
	var adapter Provider
	switch kind {
	case KindOpenAI:
		adapter = p.OpenAI
	case KindOllama:
		adapter = p.Ollama
	case KindAnthropic:
		adapter = p.Anthropic
	case KindAzure:
		adapter = p.Azure
	case KindXAI:
		adapter = p.XAI
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter registered for %q", kind)
	}
	return adapter, nil
}

// Close releases adapter resources (gRPC connections).
func (p Providers) Close() error {
	var errs []error
	for _, adapter := range []Provider{p.OpenAI, p.Ollama, p.Anthropic, p.Azure, p.XAI} {
		if c, ok := adapter.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Options bound adapter network calls.
type Options struct {
	RemoteTimeout time.Duration // hosted API calls
	LocalTimeout  time.Duration // on-box inference
	ProbeTimeout  time.Duration // reachability probes
	ProbeTTL      time.Duration // probe result cache, 0 disables caching

	// Transport, if set, is used by every HTTP based adapter.
	Transport http.RoundTripper
}

// DefaultOptions returns 30s remote, 120s local, 5s probe and 30s probe TTL.
func DefaultOptions() Options {
	return Options{
		RemoteTimeout: 30 * time.Second,
		LocalTimeout:  120 * time.Second,
		ProbeTimeout:  5 * time.Second,
		ProbeTTL:      30 * time.Second,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = d.RemoteTimeout
	}
	if o.LocalTimeout <= 0 {
		o.LocalTimeout = d.LocalTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.ProbeTTL < 0 {
		o.ProbeTTL = 0
	}
	return o
}

func (o Options) httpClient() *http.Client {
	// per-call deadlines come from context, not Client.Timeout
	return &http.Client{Transport: o.Transport}
}

// NewProviders constructs the real adapter for every Kind.
func NewProviders(opts Options) Providers {
	return Providers{
		OpenAI:    NewOpenAIProvider(opts),
		Ollama:    NewOllamaProvider(opts),
		Anthropic: NewAnthropicProvider(opts),
		Azure:     NewAzureProvider(opts),
		XAI:       NewXAIProvider(opts),
	}
}

// requireCredential is the "configured" half of availability.
func requireCredential(cfg ModelConfig) error {
	if cfg.Kind.Local() || cfg.Credential != "" {
		return nil
	}
	return &UnavailableError{Kind: cfg.Kind, Model: cfg.Name, Reason: "credential not configured"}
}

// isTransportFailure reports failures where the endpoint never answered.
func isTransportFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == 0 && pe.Type != ErrorTypeEmptyResponse &&
		!errors.Is(err, context.Canceled)
}
