package llm

import (
	"context"
	"time"

	"github.com/roelfdiedericks/kaitiaki/internal/bus"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// ModelStatus is the availability of one registry entry.
type ModelStatus struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Endpoint  string `json:"endpoint"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Status is a read-only diagnostic view.
type Status struct {
	Name               string        `json:"name"`
	AvailableProviders []Kind        `json:"availableProviders"`
	AvailableModels    []string      `json:"availableModels"`
	PreferredModel     string        `json:"preferredModel,omitempty"`
	CurrentProvider    Kind          `json:"currentProvider,omitempty"`
	Models             []ModelStatus `json:"models"`
	ChainOrder         []Kind        `json:"chainOrder"`
	Diagnostics        []string      `json:"diagnostics,omitempty"`
	LastReload         time.Time     `json:"lastReload"`
}

// checkModels runs the availability check for every registry model, in
// registry order.
func (o *Orchestrator) checkModels(ctx context.Context) []ModelStatus {
	models := o.registry.Models()
	out := make([]ModelStatus, 0, len(models))
	for _, cfg := range models {
		ms := ModelStatus{Name: cfg.Name, Kind: cfg.Kind, Endpoint: cfg.Endpoint}
		adapter, err := o.providers.For(cfg.Kind)
		if err == nil {
			err = adapter.CheckAvailable(ctx, cfg)
		}
		if err != nil {
			ms.Reason = err.Error()
		} else {
			ms.Available = true
		}
		out = append(out, ms)
	}
	return out
}

// ListAvailableModels returns the names of models whose adapter is
// currently available, in registry order.
func (o *Orchestrator) ListAvailableModels(ctx context.Context) []string {
	names := []string{}
	for _, ms := range o.checkModels(ctx) {
		if ms.Available {
			names = append(names, ms.Name)
		}
	}
	return names
}

// Status reports providers and models that can currently generate.
func (o *Orchestrator) Status(ctx context.Context) Status {
	models := o.checkModels(ctx)

	st := Status{
		Name:               o.name,
		AvailableProviders: []Kind{},
		AvailableModels:    []string{},
		Models:             models,
		ChainOrder:         o.Chain(),
		LastReload:         o.registry.LoadedAt(),
	}

	seen := make(map[Kind]bool)
	for _, ms := range models {
		if !ms.Available {
			continue
		}
		st.AvailableModels = append(st.AvailableModels, ms.Name)
		seen[ms.Kind] = true
	}
	for _, k := range Kinds() {
		if seen[k] {
			st.AvailableProviders = append(st.AvailableProviders, k)
		}
	}
	for _, d := range o.registry.Diagnostics() {
		st.Diagnostics = append(st.Diagnostics, d.Error())
	}

	o.mu.RLock()
	st.PreferredModel = o.preferred
	st.CurrentProvider = o.manual
	o.mu.RUnlock()
	return st
}

// PreferredModel returns the stored preference.
func (o *Orchestrator) PreferredModel() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.preferred
}

// CurrentProvider returns the manually selected kind, if any.
func (o *Orchestrator) CurrentProvider() Kind {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.manual
}

// SetPreferredModel stores name as the default preference when it is in
// the available list. An empty name clears the preference.
func (o *Orchestrator) SetPreferredModel(ctx context.Context, name string) bool {
	if name != "" && !contains(o.ListAvailableModels(ctx), name) {
		L_warn("llm: preferred model rejected", "model", name)
		return false
	}
	o.mu.Lock()
	o.preferred = name
	o.mu.Unlock()

	L_info("llm: preferred model set", "model", name)
	o.publishPreference()
	return true
}

// SwitchProvider makes kind's models the first fallback candidates when
// kind currently has an available model. An empty kind clears the choice.
func (o *Orchestrator) SwitchProvider(ctx context.Context, kind Kind) bool {
	if kind != "" && !o.inChain(kind) {
		L_warn("llm: provider switch rejected, kind not in fallback chain", "kind", kind, "chain", o.chain)
		return false
	}
	if kind != "" {
		ok := false
		for _, ms := range o.checkModels(ctx) {
			if ms.Kind == kind && ms.Available {
				ok = true
				break
			}
		}
		if !ok {
			L_warn("llm: provider switch rejected", "kind", kind)
			return false
		}
	}
	o.mu.Lock()
	o.manual = kind
	o.mu.Unlock()

	L_info("llm: provider switched", "kind", kind)
	o.publishPreference()
	return true
}

// RestoreState reinstates a persisted preference without probing, since
// providers may still be starting. Unknown models and kinds are dropped.
func (o *Orchestrator) RestoreState(preferred string, provider Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if preferred != "" {
		if _, ok := o.registry.Get(preferred); ok {
			o.preferred = preferred
		} else {
			L_warn("llm: saved preferred model not in registry", "model", preferred)
		}
	}
	if provider != "" {
		if o.inChain(provider) {
			o.manual = provider
		} else {
			L_warn("llm: saved provider not in fallback chain", "kind", provider)
		}
	}
	L_debug("llm: state restored", "preferred", o.preferred, "provider", o.manual)
}

func (o *Orchestrator) publishPreference() {
	o.mu.RLock()
	ev := PreferenceEvent{PreferredModel: o.preferred, CurrentProvider: o.manual}
	o.mu.RUnlock()
	o.bus.Publish(bus.TopicPreferenceChanged, ev)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// inChain reports whether kind takes part in pure fallback. Only those
// kinds can be promoted by SwitchProvider.
func (o *Orchestrator) inChain(kind Kind) bool {
	for _, k := range o.chain {
		if k == kind {
			return true
		}
	}
	return false
}
