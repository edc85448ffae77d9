package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/kaitiaki/internal/bus"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// Recorder receives per-attempt metrics. *metrics.Manager satisfies it.
type Recorder interface {
	RecordDuration(topic, function string, d time.Duration)
	RecordSuccess(topic, function string)
	RecordFailure(topic, function, reason string)
	AddCounter(topic, function string, delta int64)
}

// OrchestratorOptions carries the optional collaborators.
type OrchestratorOptions struct {
	Name    string   // reported by Status, default "kaitiaki"
	Bus     *bus.Bus // nil disables events
	Metrics Recorder // nil disables metrics
	Tokens  Counter  // nil disables token counters
}

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// Result is a successful generation.
type Result struct {
	Text       string    `json:"text"`
	Model      string    `json:"model"`
	Kind       Kind      `json:"kind"`
	Attempts   []Attempt `json:"-"` // failed attempts before the winner
	FailedOver bool      `json:"failedOver"`
}

// FallbackEvent is published on bus.TopicFallback when a call succeeded
// only after earlier candidates failed.
type FallbackEvent struct {
	Model    string
	Kind     Kind
	Attempts []Attempt
}

// PreferenceEvent is published on bus.TopicPreferenceChanged.
type PreferenceEvent struct {
	PreferredModel  string
	CurrentProvider Kind
}

// Orchestrator runs the fallback sequence over a Registry. Calls are
// synchronous; concurrent calls are independent.
type Orchestrator struct {
	name      string
	registry  *Registry
	providers Providers
	chain     []Kind
	bus       *bus.Bus
	metrics   Recorder
	tokens    Counter

	mu        sync.RWMutex
	preferred string
	manual    Kind
}

// NewOrchestrator binds a registry to its adapters. A nil chain means
// DefaultChain; an empty one disables pure fallback.
func NewOrchestrator(registry *Registry, providers Providers, chain []Kind, opts OrchestratorOptions) *Orchestrator {
	if chain == nil {
		chain = DefaultChain()
	}
	name := opts.Name
	if name == "" {
		name = "kaitiaki"
	}
	fixed := make([]Kind, len(chain))
	copy(fixed, chain)
	return &Orchestrator{
		name:      name,
		registry:  registry,
		providers: providers,
		chain:     fixed,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		tokens:    opts.Tokens,
	}
}

// Registry returns the registry the orchestrator reads.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Chain returns a copy of the fallback chain.
func (o *Orchestrator) Chain() []Kind {
	out := make([]Kind, len(o.chain))
	copy(out, o.chain)
	return out
}

// Generate returns only the text of GenerateWithFallback.
func (o *Orchestrator) Generate(ctx context.Context, prompt, preferred string) (string, error) {
	res, err := o.GenerateWithFallback(ctx, prompt, preferred)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// GenerateWithFallback tries the preferred model (argument, else the
// stored preference), then the manually selected kind, then the fallback
// chain, one Generate per available candidate. It fails with
// *ExhaustedError when every attempt failed and with *CanceledError when
// ctx ends first.
func (o *Orchestrator) GenerateWithFallback(ctx context.Context, prompt, preferred string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	o.mu.RLock()
	if preferred == "" {
		preferred = o.preferred
	}
	manual := o.manual
	o.mu.RUnlock()

	var attempts []Attempt
	tried := make(map[string]bool)

	run := func(cfg ModelConfig) (*Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, &CanceledError{Attempts: attempts, Cause: err}
		}
		tried[cfg.Name] = true
		text, err := o.attempt(ctx, prompt, cfg)
		if err == nil {
			return &Result{Text: text, Model: cfg.Name, Kind: cfg.Kind, Attempts: attempts, FailedOver: len(attempts) > 0}, nil
		}
		attempts = append(attempts, Attempt{Model: cfg.Name, Kind: cfg.Kind, Err: err})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &CanceledError{Attempts: attempts, Cause: ctxErr}
		}
		return nil, nil
	}

	if preferred != "" {
		if cfg, ok := o.registry.Get(preferred); ok {
			res, err := run(cfg)
			if res != nil || err != nil {
				return o.finish(res, err)
			}
		} else {
			L_debug("llm: preferred model not in registry", "model", preferred)
		}
	}

	for _, kind := range o.order(manual) {
		for _, cfg := range o.registry.ModelsOfKind(kind) {
			if tried[cfg.Name] {
				continue
			}
			res, err := run(cfg)
			if res != nil || err != nil {
				return o.finish(res, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &CanceledError{Attempts: attempts, Cause: err}
	}

	o.count("exhausted", 1)
	L_warn("llm: all providers exhausted", "attempts", len(attempts))
	exhausted := &ExhaustedError{Attempts: attempts}
	o.bus.Publish(bus.TopicExhausted, exhausted)
	return nil, exhausted
}

// order is the kind sequence for the non-preferred phase.
func (o *Orchestrator) order(manual Kind) []Kind {
	if manual == "" {
		return o.chain
	}
	out := make([]Kind, 0, len(o.chain)+1)
	out = append(out, manual)
	for _, k := range o.chain {
		if k != manual {
			out = append(out, k)
		}
	}
	return out
}

func (o *Orchestrator) finish(res *Result, err error) (*Result, error) {
	if err != nil {
		L_info("llm: generation canceled", "error", err)
		return nil, err
	}
	if res.FailedOver {
		o.count("fallbacks", 1)
		L_info("llm: served by fallback", "model", res.Model, "kind", res.Kind, "failedAttempts", len(res.Attempts))
		o.bus.Publish(bus.TopicFallback, FallbackEvent{Model: res.Model, Kind: res.Kind, Attempts: res.Attempts})
	}
	return res, nil
}

// attempt checks availability then calls Generate once.
func (o *Orchestrator) attempt(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	topic := "llm/" + string(cfg.Kind) + "/" + cfg.Name

	adapter, err := o.providers.For(cfg.Kind)
	if err != nil {
		return "", &UnavailableError{Kind: cfg.Kind, Model: cfg.Name, Reason: "no adapter", Cause: err}
	}

	if err := adapter.CheckAvailable(ctx, cfg); err != nil {
		var ue *UnavailableError
		if !errors.As(err, &ue) {
			err = &UnavailableError{Kind: cfg.Kind, Model: cfg.Name, Reason: "availability check failed", Cause: err}
		}
		L_debug("llm: candidate unavailable", "model", cfg.Name, "kind", cfg.Kind, "error", err)
		o.recordFailure(topic, "availability", "unavailable")
		return "", err
	}

	start := time.Now()
	text, err := adapter.Generate(ctx, prompt, cfg)
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordDuration(topic, "request", elapsed)
	}

	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			pe = newProviderError(cfg, 0, "", err)
			err = pe
		}
		L_warn("llm: candidate failed", "model", cfg.Name, "kind", cfg.Kind, "type", pe.Type,
			"elapsed", elapsed.Round(time.Millisecond), "error", err)
		o.recordFailure(topic, "outcome", string(pe.Type))
		return "", err
	}

	if o.metrics != nil {
		o.metrics.RecordSuccess(topic, "outcome")
	}
	o.count("prompt_chars", int64(len(prompt)))
	o.count("response_chars", int64(len(text)))
	if o.tokens != nil {
		o.count("prompt_tokens", int64(o.tokens.Count(prompt)))
		o.count("response_tokens", int64(o.tokens.Count(text)))
	}
	L_info("llm: request completed", "model", cfg.Name, "kind", cfg.Kind,
		"elapsed", elapsed.Round(time.Millisecond), "responseChars", len(text))
	return text, nil
}

func (o *Orchestrator) recordFailure(topic, function, reason string) {
	if o.metrics != nil {
		o.metrics.RecordFailure(topic, function, reason)
	}
}

func (o *Orchestrator) count(function string, delta int64) {
	if o.metrics != nil {
		o.metrics.AddCounter("llm", function, delta)
	}
}

// Reload rebuilds the registry from current secrets and announces it.
func (o *Orchestrator) Reload() []ConfigurationError {
	diags := o.registry.Reload()
	o.bus.Publish(bus.TopicRegistryReloaded, o.registry.Names())
	return diags
}
