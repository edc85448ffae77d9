package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	opts   Options
	probes *probeCache
}

// NewAnthropicProvider returns the adapter for KindAnthropic.
func NewAnthropicProvider(opts Options) *AnthropicProvider {
	opts = opts.normalized()
	return &AnthropicProvider{
		opts:   opts,
		probes: newProbeCache(opts.ProbeTTL, opts.ProbeTimeout),
	}
}

func (p *AnthropicProvider) Kind() Kind { return KindAnthropic }

func (p *AnthropicProvider) client(cfg ModelConfig) *anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Credential),
		option.WithHTTPClient(p.opts.httpClient()),
		// one attempt per candidate, the orchestrator moves on
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)
	return &client
}

// Generate sends a single user turn and concatenates the text blocks of
// the reply.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RemoteTimeout)
	defer cancel()

	params := Params{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}.normalized()
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(cfg.Name),
		MaxTokens:   int64(params.MaxTokens),
		Temperature: anthropic.Float(params.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	start := time.Now()
	L_debug("anthropic: request started", "model", cfg.Name, "chars", len(prompt))

	msg, err := p.client(cfg).Messages.New(ctx, req)
	if err != nil {
		pe := p.mapError(cfg, err)
		if isTransportFailure(pe) {
			p.probes.invalidate(probeKey(cfg))
		}
		L_warn("anthropic: request failed", "model", cfg.Name, "status", pe.Status, "type", pe.Type, "error", err)
		return "", pe
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &ProviderError{Kind: KindAnthropic, Model: cfg.Name, Status: 200, Type: ErrorTypeEmptyResponse,
			Body: "no text blocks, stop reason " + string(msg.StopReason)}
	}

	L_debug("anthropic: request completed", "model", cfg.Name,
		"elapsed", time.Since(start).Round(time.Millisecond), "responseChars", b.Len(),
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)
	return b.String(), nil
}

func (p *AnthropicProvider) mapError(cfg ModelConfig, err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newProviderError(cfg, apiErr.StatusCode, apiErr.RawJSON(), err)
	}
	return newProviderError(cfg, 0, "", err)
}

// CheckAvailable requires an API key and a successful model listing.
func (p *AnthropicProvider) CheckAvailable(ctx context.Context, cfg ModelConfig) error {
	if err := requireCredential(cfg); err != nil {
		return err
	}
	err := p.probes.check(ctx, probeKey(cfg), func(ctx context.Context) error {
		_, err := p.client(cfg).Models.List(ctx, anthropic.ModelListParams{})
		return err
	})
	if err != nil {
		return &UnavailableError{Kind: KindAnthropic, Model: cfg.Name, Reason: "probe failed", Cause: err}
	}
	return nil
}
