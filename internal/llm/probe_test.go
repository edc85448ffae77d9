package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReachabilityCacheTTL(t *testing.T) {
	c := newProbeCache(30*time.Second, time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	probe := func(ctx context.Context) error {
		calls++
		return nil
	}

	assert.NoError(t, c.check(context.Background(), "k", probe))
	assert.NoError(t, c.check(context.Background(), "k", probe))
	assert.Equal(t, 1, calls)

	now = now.Add(31 * time.Second)
	assert.NoError(t, c.check(context.Background(), "k", probe))
	assert.Equal(t, 2, calls)

	c.invalidate("k")
	assert.NoError(t, c.check(context.Background(), "k", probe))
	assert.Equal(t, 3, calls)
}

func TestReachabilityCacheCachesFailures(t *testing.T) {
	c := newProbeCache(time.Minute, time.Second)
	down := errors.New("connection refused")
	calls := 0
	probe := func(ctx context.Context) error {
		calls++
		return down
	}

	assert.ErrorIs(t, c.check(context.Background(), "k", probe), down)
	assert.ErrorIs(t, c.check(context.Background(), "k", probe), down)
	assert.Equal(t, 1, calls)
}

func TestReachabilityCacheZeroTTL(t *testing.T) {
	c := newProbeCache(0, time.Second)
	calls := 0
	for i := 0; i < 3; i++ {
		_ = c.check(context.Background(), "k", func(ctx context.Context) error {
			calls++
			return nil
		})
	}
	assert.Equal(t, 3, calls)
}

func TestReachabilityCacheDoesNotCacheCancellation(t *testing.T) {
	c := newProbeCache(time.Minute, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.check(ctx, "k", func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)

	calls := 0
	assert.NoError(t, c.check(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestReachabilityKeySeparatesCredentials(t *testing.T) {
	a := probeKey(ModelConfig{Kind: KindOpenAI, Endpoint: "https://api.openai.com", Credential: "one"})
	b := probeKey(ModelConfig{Kind: KindOpenAI, Endpoint: "https://api.openai.com", Credential: "two"})
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "one")
}
