package llm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/kaitiaki/internal/secrets"
)

// fakeProvider scripts availability and replies per model name and
// records every call in order.
type fakeProvider struct {
	kind Kind

	mu      sync.Mutex
	down    map[string]bool
	replies map[string]string
	errs    map[string]error
	calls   []string
	hook    func(model string)
}

func newFake(kind Kind) *fakeProvider {
	return &fakeProvider{
		kind:    kind,
		down:    make(map[string]bool),
		replies: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (f *fakeProvider) Kind() Kind { return f.kind }

func (f *fakeProvider) reply(model, text string) *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[model] = text
	return f
}

func (f *fakeProvider) fail(model string, err error) *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[model] = err
	return f
}

func (f *fakeProvider) setDown(model string, down bool) *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[model] = down
	return f
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeProvider) CheckAvailable(ctx context.Context, cfg ModelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "check:"+cfg.Name)
	if f.down[cfg.Name] {
		return &UnavailableError{Kind: f.kind, Model: cfg.Name, Reason: "down"}
	}
	return nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "gen:"+cfg.Name)
	hook := f.hook
	reply, err := f.replies[cfg.Name], f.errs[cfg.Name]
	f.mu.Unlock()

	if hook != nil {
		hook(cfg.Name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", newProviderError(cfg, 0, "", ctxErr)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// catalogOf builds a credential-free catalog, one entry per kind.
func catalogOf(entries map[Kind][]string, order ...Kind) []CatalogEntry {
	catalog := make([]CatalogEntry, 0, len(order))
	for _, k := range order {
		catalog = append(catalog, CatalogEntry{Kind: k, DefaultEndpoint: "http://" + string(k), DefaultModels: entries[k]})
	}
	return catalog
}

func newTestRegistry(t *testing.T, catalog []CatalogEntry) *Registry {
	t.Helper()
	r := NewRegistry(secrets.Map{}, catalog, DefaultParams())
	require.Empty(t, r.Diagnostics())
	return r
}
