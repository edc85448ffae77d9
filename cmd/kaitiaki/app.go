package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/roelfdiedericks/kaitiaki/internal/bus"
	"github.com/roelfdiedericks/kaitiaki/internal/config"
	"github.com/roelfdiedericks/kaitiaki/internal/llm"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/metrics"
	"github.com/roelfdiedericks/kaitiaki/internal/paths"
	"github.com/roelfdiedericks/kaitiaki/internal/secrets"
	"github.com/roelfdiedericks/kaitiaki/internal/tokens"
)

// app is the wired generation stack shared by all commands.
type app struct {
	cfg       *config.Config
	dotenv    *secrets.DotEnv
	registry  *llm.Registry
	providers llm.Providers
	orch      *llm.Orchestrator
	metrics   *metrics.Manager
	bus       *bus.Bus
	statePath string
	stateMu   sync.Mutex
	watcher   *secrets.Watcher
}

// newApp loads config and secrets and builds the orchestrator.
func newApp(g *Globals, overrides config.Overrides) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.EnvFile != "" {
		overrides.LLM.EnvFile = g.EnvFile
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	if !g.Debug {
		SetLevel(ParseLevel(cfg.Log.Level))
	}

	chain, err := llm.ParseChain(cfg.LLM.FallbackChain)
	if err != nil {
		return nil, fmt.Errorf("llm.fallback_chain: %w", err)
	}

	envPath, err := cfg.ResolvePath(cfg.LLM.EnvFile)
	if err != nil {
		return nil, err
	}
	dotenv, err := secrets.NewDotEnv(envPath)
	if err != nil {
		return nil, err
	}
	// process environment wins over the file
	src := secrets.Chain{secrets.Env{Prefix: cfg.LLM.EnvPrefix}, dotenv}

	statePath, err := paths.StatePath(cfg.Path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		dotenv:    dotenv,
		metrics:   metrics.New(),
		bus:       bus.New(),
		statePath: statePath,
	}

	if cfg.Metrics.Persist {
		dbPath, err := cfg.ResolvePath(cfg.Metrics.Path)
		if err != nil {
			return nil, err
		}
		if err := a.metrics.Open(dbPath); err != nil {
			L_warn("metrics: persistence disabled", "path", dbPath, "error", err)
		}
	}

	a.registry = llm.NewRegistry(src, nil, llm.Params{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	a.providers = llm.NewProviders(llm.Options{
		RemoteTimeout: cfg.LLM.RemoteTimeout.Std(),
		LocalTimeout:  cfg.LLM.LocalTimeout.Std(),
		ProbeTimeout:  cfg.LLM.ProbeTimeout.Std(),
		ProbeTTL:      cfg.LLM.ProbeTTL.Std(),
	})
	a.orch = llm.NewOrchestrator(a.registry, a.providers, chain, llm.OrchestratorOptions{
		Bus:     a.bus,
		Metrics: a.metrics,
		Tokens:  tokens.New(cfg.Metrics.TokenEncoding),
	})

	a.restoreState()

	return a, nil
}

func (a *app) restoreState() {
	st, err := config.LoadState(a.statePath)
	if err != nil {
		L_warn("state: failed to load, ignoring", "path", a.statePath, "error", err)
		return
	}
	a.orch.RestoreState(st.PreferredModel, llm.Kind(st.CurrentProvider))
}

// persistState saves the selection whenever a preference event arrives.
// Handlers run concurrently, so each one writes the orchestrator's current
// selection rather than its event payload.
func (a *app) persistState() bus.SubscriptionID {
	return a.bus.Subscribe(bus.TopicPreferenceChanged, func(bus.Event) {
		if err := a.saveState(); err != nil {
			L_error("state: save failed", "path", a.statePath, "error", err)
		}
	})
}

func (a *app) saveState() error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	st := config.State{
		PreferredModel:  a.orch.PreferredModel(),
		CurrentProvider: string(a.orch.CurrentProvider()),
	}
	if err := config.SaveState(a.statePath, st); err != nil {
		return err
	}
	L_debug("state: saved", "path", a.statePath, "preferred", st.PreferredModel)
	return nil
}

// watchSecrets reloads the registry whenever the .env file changes.
func (a *app) watchSecrets(ctx context.Context) error {
	if !a.cfg.LLM.WatchEnv {
		return nil
	}
	w, err := secrets.NewWatcher(a.dotenv, func() {
		diags := a.orch.Reload()
		L_info("secrets: env file changed, registry rebuilt", "models", a.registry.Len(), "skipped", len(diags))
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Close stops the watcher, flushes metrics and releases provider clients.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.metrics.Close(); err != nil {
		L_warn("metrics: close failed", "error", err)
	}
	if err := a.providers.Close(); err != nil {
		L_warn("llm: close failed", "error", err)
	}
}
