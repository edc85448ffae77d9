package llm

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/secrets"
)

// Registry owns the ordered model catalog built from secrets. Reads take a
// shared lock; Reload swaps the catalog under the exclusive lock.
type Registry struct {
	src     secrets.Source
	catalog []CatalogEntry
	params  Params

	mu          sync.RWMutex
	models      *orderedmap.OrderedMap[string, ModelConfig]
	diagnostics []ConfigurationError
	loadedAt    time.Time
}

// NewRegistry builds the registry once from src.
func NewRegistry(src secrets.Source, catalog []CatalogEntry, params Params) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Registry{src: src, catalog: catalog, params: params}
	r.Reload()
	return r
}

// Reload rebuilds the catalog from the current secrets and returns the
// build diagnostics. Each diagnostic is logged.
func (r *Registry) Reload() []ConfigurationError {
	models, diags := Build(r.src, r.catalog, r.params)
	for _, d := range diags {
		L_debug("registry: configuration skipped", "kind", d.Kind, "key", d.Key, "model", d.Model, "reason", d.Reason)
	}

	r.mu.Lock()
	r.models = models
	r.diagnostics = diags
	r.loadedAt = time.Now()
	r.mu.Unlock()

	L_info("registry: built", "models", models.Len(), "skipped", len(diags))
	return diags
}

// Get returns a copy of the named model.
func (r *Registry) Get(name string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models.Get(name)
}

// Models returns copies of all models in registry order.
func (r *Registry) Models() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelConfig, 0, r.models.Len())
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ModelsOfKind returns copies of the kind's models in registry order.
func (r *Registry) ModelsOfKind(kind Kind) []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModelConfig
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == kind {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Names returns model names in registry order.
func (r *Registry) Names() []string {
	models := r.Models()
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names
}

// Len returns the number of models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models.Len()
}

// Diagnostics returns the ConfigurationErrors of the last build.
func (r *Registry) Diagnostics() []ConfigurationError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConfigurationError, len(r.diagnostics))
	copy(out, r.diagnostics)
	return out
}

// LoadedAt returns when the catalog was last built.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
