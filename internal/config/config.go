// Package config loads kaitiaki.toml / kaitiaki.yaml and the persisted
// runtime state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/paths"
)

// Config represents the kaitiaki configuration
type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server" json:"server"`
	LLM     LLMConfig     `toml:"llm" yaml:"llm" json:"llm"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics" json:"metrics"`
	Log     LogConfig     `toml:"log" yaml:"log" json:"log"`

	// Path of the file this config was read from, empty for defaults.
	Path string `toml:"-" yaml:"-" json:"-"`
}

type ServerConfig struct {
	Listen    string  `toml:"listen" yaml:"listen" json:"listen"`
	Token     string  `toml:"token" yaml:"token" json:"-"`
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" json:"rateLimit"` // requests per second per client, 0 disables
	Burst     int     `toml:"burst" yaml:"burst" json:"burst"`
	// IPs or CIDRs whose X-Forwarded-For / X-Real-IP headers are believed
	TrustedProxies []string `toml:"trusted_proxies" yaml:"trusted_proxies" json:"trustedProxies"`
	// bounds one generate request including every fallback attempt
	GenerateTimeout Duration `toml:"generate_timeout" yaml:"generate_timeout" json:"generateTimeout"`
}

type LLMConfig struct {
	// An absent key keeps the default chain; an explicit empty list leaves
	// only preferred and manually selected models.
	FallbackChain []string `toml:"fallback_chain" yaml:"fallback_chain" json:"fallbackChain"`
	RemoteTimeout Duration `toml:"remote_timeout" yaml:"remote_timeout" json:"remoteTimeout"`
	LocalTimeout  Duration `toml:"local_timeout" yaml:"local_timeout" json:"localTimeout"`
	ProbeTimeout  Duration `toml:"probe_timeout" yaml:"probe_timeout" json:"probeTimeout"`
	ProbeTTL      Duration `toml:"probe_ttl" yaml:"probe_ttl" json:"probeTTL"` // 0 disables probe caching
	MaxTokens     int      `toml:"max_tokens" yaml:"max_tokens" json:"maxTokens"`
	Temperature   float64  `toml:"temperature" yaml:"temperature" json:"temperature"`
	EnvFile       string   `toml:"env_file" yaml:"env_file" json:"envFile"`
	EnvPrefix     string   `toml:"env_prefix" yaml:"env_prefix" json:"envPrefix"`
	WatchEnv      bool     `toml:"watch_env" yaml:"watch_env" json:"watchEnv"`
}

type MetricsConfig struct {
	Persist bool   `toml:"persist" yaml:"persist" json:"persist"`
	Path    string `toml:"path" yaml:"path" json:"path"`
	// tiktoken encoding for token counters, e.g. "cl100k_base"; empty
	// estimates from character counts
	TokenEncoding string `toml:"token_encoding" yaml:"token_encoding" json:"tokenEncoding"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
}

// Duration is a time.Duration read from strings like "30s" or "2m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:    ":8787",
			RateLimit:       5,
			Burst:           10,
			GenerateTimeout: Duration(5 * time.Minute),
		},
		LLM: LLMConfig{
			FallbackChain: []string{"openai", "anthropic", "azure", "xai", "ollama"},
			RemoteTimeout: Duration(30 * time.Second),
			LocalTimeout:  Duration(120 * time.Second),
			ProbeTimeout:  Duration(5 * time.Second),
			ProbeTTL:      Duration(30 * time.Second),
			MaxTokens:     4000,
			Temperature:   0.7,
			EnvFile:       ".env",
			WatchEnv:      true,
		},
		Metrics: MetricsConfig{
			Persist: true,
			Path:    "~/.kaitiaki/metrics.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path. An empty path searches the default
// locations (see paths.ConfigPath); no file at all yields Default().
// Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		if found == "" {
			L_debug("config: no config file, using defaults")
			return cfg, nil
		}
		path = found
	}

	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	L_debug("config: loaded", "path", path)
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	default:
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
		for _, key := range meta.Undecoded() {
			L_warn("config: unknown key", "key", key.String(), "path", path)
		}
	}
	return nil
}

// Overrides holds values set on the command line. Zero fields are ignored.
type Overrides struct {
	Server ServerConfig
	LLM    LLMConfig
	Log    LogConfig
}

// Apply merges non-zero override fields into c.
func (c *Config) Apply(o Overrides) error {
	patch := Config{Server: o.Server, LLM: o.LLM, Log: o.Log}
	if err := mergo.Merge(c, patch, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		return fmt.Errorf("server.burst must be >= 1 when rate limiting")
	}
	if c.Server.GenerateTimeout < 0 {
		return fmt.Errorf("server.generate_timeout must be >= 0")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	if c.LLM.RemoteTimeout <= 0 || c.LLM.LocalTimeout <= 0 || c.LLM.ProbeTimeout <= 0 {
		return fmt.Errorf("llm timeouts must be positive")
	}
	if c.LLM.ProbeTTL < 0 {
		return fmt.Errorf("llm.probe_ttl must be >= 0")
	}
	return nil
}

// ResolvePath expands ~ and makes relative paths relative to the config
// file's directory.
func (c *Config) ResolvePath(p string) (string, error) {
	p, err := paths.ExpandTilde(p)
	if err != nil {
		return "", err
	}
	if p == "" || filepath.IsAbs(p) || c.Path == "" {
		return p, nil
	}
	return filepath.Join(filepath.Dir(c.Path), p), nil
}
