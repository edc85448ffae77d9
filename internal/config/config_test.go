package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8787", cfg.Server.Listen)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 30*time.Second, cfg.LLM.RemoteTimeout.Std())
	assert.Equal(t, 120*time.Second, cfg.LLM.LocalTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.Server.GenerateTimeout.Std())
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"openai", "anthropic", "azure", "xai", "ollama"}, cfg.LLM.FallbackChain)
}

func TestLoadTOMLKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeFile(t, "kaitiaki.toml", `
[server]
listen = "127.0.0.1:9000"

[llm]
fallback_chain = ["ollama", "openai"]
local_timeout = "2m"
watch_env = false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 10, cfg.Server.Burst)
	assert.Equal(t, []string{"ollama", "openai"}, cfg.LLM.FallbackChain)
	assert.Equal(t, 2*time.Minute, cfg.LLM.LocalTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.LLM.RemoteTimeout.Std())
	assert.False(t, cfg.LLM.WatchEnv)
	assert.True(t, cfg.Metrics.Persist)
}

func TestLoadEmptyFallbackChain(t *testing.T) {
	path := writeFile(t, "kaitiaki.toml", "[llm]\nfallback_chain = []\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg.LLM.FallbackChain)
	assert.Empty(t, cfg.LLM.FallbackChain)

	path = writeFile(t, "kaitiaki.yaml", "llm:\n  fallback_chain: []\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.LLM.FallbackChain)
}

func TestLoadServerProxies(t *testing.T) {
	path := writeFile(t, "kaitiaki.toml", "[server]\ntrusted_proxies = [\"10.0.0.0/8\"]\ngenerate_timeout = \"90s\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 90*time.Second, cfg.Server.GenerateTimeout.Std())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "kaitiaki.yaml", `
llm:
  probe_ttl: 0s
  max_tokens: 512
  temperature: 0.2
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.LLM.ProbeTTL.Std())
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8787", cfg.Server.Listen)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "kaitiaki.toml", "[llm]\nmax_tokens = -1\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = writeFile(t, "kaitiaki.toml", "[llm]\nremote_timeout = \"soon\"\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.Apply(Overrides{
		Log: LogConfig{Level: "debug"},
		LLM: LLMConfig{EnvFile: "/run/secrets/.env"},
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/run/secrets/.env", cfg.LLM.EnvFile)
	// untouched fields survive
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Equal(t, ":8787", cfg.Server.Listen)
	assert.True(t, cfg.LLM.WatchEnv)
}

func TestResolvePath(t *testing.T) {
	cfg := Default()
	cfg.Path = "/srv/kaitiaki/kaitiaki.toml"

	got, err := cfg.ResolvePath(".env")
	require.NoError(t, err)
	assert.Equal(t, "/srv/kaitiaki/.env", got)

	got, err = cfg.ResolvePath("/etc/kaitiaki.env")
	require.NoError(t, err)
	assert.Equal(t, "/etc/kaitiaki.env", got)
}
