package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// probeCache remembers reachability results per endpoint and credential
// for ttl. A zero ttl probes on every call.
type probeCache struct {
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]probeEntry
}

type probeEntry struct {
	err error
	at  time.Time
}

func newProbeCache(ttl, timeout time.Duration) *probeCache {
	return &probeCache{
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		entries: make(map[string]probeEntry),
	}
}

// probeKey identifies an endpoint as seen with a given credential, without
// keeping the credential itself.
func probeKey(cfg ModelConfig) string {
	sum := sha256.Sum256([]byte(cfg.Credential))
	return string(cfg.Kind) + "|" + cfg.Endpoint + "|" + hex.EncodeToString(sum[:6])
}

// check returns the cached result for key or runs probe under the probe
// timeout. Cancellation of ctx is not cached.
func (c *probeCache) check(ctx context.Context, key string, probe func(ctx context.Context) error) error {
	if c.ttl > 0 {
		c.mu.Lock()
		entry, ok := c.entries[key]
		c.mu.Unlock()
		if ok && c.now().Sub(entry.at) < c.ttl {
			L_trace("probe: cached", "key", key, "ok", entry.err == nil)
			return entry.err
		}
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := probe(pctx)
	L_debug("probe: done", "key", key, "ok", err == nil, "elapsed", time.Since(start))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[key] = probeEntry{err: err, at: c.now()}
		c.mu.Unlock()
	}
	return err
}

// invalidate drops a cached result so the next check probes again.
func (c *probeCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
