package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// OllamaProvider talks to a local Ollama server over its JSON API.
type OllamaProvider struct {
	opts   Options
	client *http.Client
	probes *probeCache
}

// ollamaGenerateRequest is the request body for /api/generate
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// ollamaOptions carries sampling options
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaGenerateResponse is the non-streaming response from /api/generate
type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// ollamaTagsResponse is the response from /api/tags (partial)
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaProvider returns the adapter for KindOllama.
func NewOllamaProvider(opts Options) *OllamaProvider {
	opts = opts.normalized()
	return &OllamaProvider{
		opts:   opts,
		client: opts.httpClient(),
		probes: newProbeCache(opts.ProbeTTL, opts.ProbeTimeout),
	}
}

func (p *OllamaProvider) Kind() Kind { return KindOllama }

// Generate runs one non-streaming completion. A reply without text is an
// error so fallback continues.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.LocalTimeout)
	defer cancel()

	params := Params{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}.normalized()
	jsonData, err := json.Marshal(ollamaGenerateRequest{
		Model:  cfg.Name,
		Prompt: prompt,
		Stream: false,
		Options: &ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
		},
	})
	if err != nil {
		return "", newProviderError(cfg, 0, "", fmt.Errorf("marshal request: %w", err))
	}

	url := strings.TrimSuffix(cfg.Endpoint, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", newProviderError(cfg, 0, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	L_debug("ollama: request started", "model", cfg.Name, "url", url, "chars", len(prompt))

	resp, err := p.client.Do(req)
	if err != nil {
		p.probes.invalidate(probeKey(cfg))
		L_warn("ollama: request failed", "model", cfg.Name, "error", err)
		return "", newProviderError(cfg, 0, "", fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newProviderError(cfg, resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		L_warn("ollama: request failed", "model", cfg.Name, "status", resp.StatusCode, "body", truncate(string(body), 200))
		return "", newProviderError(cfg, resp.StatusCode, string(body), nil)
	}

	var result ollamaGenerateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", newProviderError(cfg, resp.StatusCode, string(body), fmt.Errorf("decode response: %w", err))
	}
	if result.Error != "" {
		return "", newProviderError(cfg, resp.StatusCode, result.Error, nil)
	}
	if result.Response == "" {
		return "", &ProviderError{Kind: KindOllama, Model: cfg.Name, Status: resp.StatusCode,
			Type: ErrorTypeEmptyResponse, Body: "missing or empty response field"}
	}

	L_debug("ollama: request completed", "model", cfg.Name,
		"elapsed", time.Since(start).Round(time.Millisecond), "responseChars", len(result.Response))
	return result.Response, nil
}

// CheckAvailable probes GET /api/tags. No credential is needed.
func (p *OllamaProvider) CheckAvailable(ctx context.Context, cfg ModelConfig) error {
	if cfg.Endpoint == "" {
		return &UnavailableError{Kind: KindOllama, Model: cfg.Name, Reason: "endpoint not configured"}
	}
	err := p.probes.check(ctx, probeKey(cfg), func(ctx context.Context) error {
		return p.listTags(ctx, cfg.Endpoint)
	})
	if err != nil {
		return &UnavailableError{Kind: KindOllama, Model: cfg.Name, Reason: "probe failed", Cause: err}
	}
	return nil
}

func (p *OllamaProvider) listTags(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(endpoint, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	L_trace("ollama: tags", "endpoint", endpoint, "models", len(tags.Models))
	return nil
}
