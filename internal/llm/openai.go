package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// OpenAIProvider talks to the OpenAI chat-completions API, or to an Azure
// OpenAI resource when azure is set. Model names are deployment names on
// Azure.
type OpenAIProvider struct {
	kind   Kind
	azure  bool
	opts   Options
	probes *probeCache
}

// NewOpenAIProvider returns the adapter for KindOpenAI.
func NewOpenAIProvider(opts Options) *OpenAIProvider {
	opts = opts.normalized()
	return &OpenAIProvider{
		kind:   KindOpenAI,
		opts:   opts,
		probes: newProbeCache(opts.ProbeTTL, opts.ProbeTimeout),
	}
}

// NewAzureProvider returns the adapter for KindAzure.
func NewAzureProvider(opts Options) *OpenAIProvider {
	p := NewOpenAIProvider(opts)
	p.kind = KindAzure
	p.azure = true
	return p
}

func (p *OpenAIProvider) Kind() Kind { return p.kind }

func (p *OpenAIProvider) client(cfg ModelConfig) *openai.Client {
	var config openai.ClientConfig
	if p.azure {
		config = openai.DefaultAzureConfig(cfg.Credential, cfg.Endpoint)
		// deployment names are used verbatim
		config.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		config = openai.DefaultConfig(cfg.Credential)
		if cfg.Endpoint != "" {
			base := strings.TrimSuffix(cfg.Endpoint, "/")
			if !strings.HasSuffix(base, "/v1") {
				base += "/v1"
			}
			config.BaseURL = base
		}
	}
	config.HTTPClient = p.opts.httpClient()
	return openai.NewClientWithConfig(config)
}

// Generate sends one user message and returns the first choice.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RemoteTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: cfg.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	params := Params{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}.normalized()
	if isReasoningModel(cfg.Name) {
		// reasoning models reject max_tokens and a non-default temperature
		req.MaxCompletionTokens = params.MaxTokens
	} else {
		req.MaxTokens = params.MaxTokens
		req.Temperature = float32(params.Temperature)
	}

	start := time.Now()
	L_debug("openai: request started", "kind", p.kind, "model", cfg.Name, "chars", len(prompt))

	resp, err := p.client(cfg).CreateChatCompletion(ctx, req)
	if err != nil {
		pe := p.mapError(cfg, err)
		if isTransportFailure(pe) {
			p.probes.invalidate(probeKey(cfg))
		}
		L_warn("openai: request failed", "kind", p.kind, "model", cfg.Name, "status", pe.Status, "type", pe.Type, "error", err)
		return "", pe
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Kind: p.kind, Model: cfg.Name, Status: 200, Type: ErrorTypeEmptyResponse, Body: "no choices in response"}
	}

	text := resp.Choices[0].Message.Content
	L_debug("openai: request completed", "kind", p.kind, "model", cfg.Name,
		"elapsed", time.Since(start).Round(time.Millisecond), "responseChars", len(text),
		"finish", resp.Choices[0].FinishReason)
	return text, nil
}

// mapError turns go-openai errors into a *ProviderError.
func (p *OpenAIProvider) mapError(cfg ModelConfig, err error) *ProviderError {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return newProviderError(cfg, apiErr.HTTPStatusCode, apiErr.Message, err)
	case errors.As(err, &reqErr):
		return newProviderError(cfg, reqErr.HTTPStatusCode, string(reqErr.Body), err)
	default:
		return newProviderError(cfg, 0, "", err)
	}
}

// CheckAvailable requires a credential (and an endpoint on Azure) and a
// successful model listing.
func (p *OpenAIProvider) CheckAvailable(ctx context.Context, cfg ModelConfig) error {
	if err := requireCredential(cfg); err != nil {
		return err
	}
	if p.azure && cfg.Endpoint == "" {
		return &UnavailableError{Kind: p.kind, Model: cfg.Name, Reason: "endpoint not configured"}
	}
	err := p.probes.check(ctx, probeKey(cfg), func(ctx context.Context) error {
		_, err := p.client(cfg).ListModels(ctx)
		return err
	})
	if err != nil {
		return &UnavailableError{Kind: p.kind, Model: cfg.Name, Reason: "probe failed", Cause: err}
	}
	return nil
}

// isReasoningModel matches the o-series and gpt-5 families.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
