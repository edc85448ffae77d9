// Package secrets provides read-only key/value sources for credentials,
// endpoints and model preferences.
//
// A Source never fails: a missing key and a key set to the empty string are
// both reported as absent, so a credential is only "configured" when Lookup
// returns ok.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// Source is a read-only key/value store.
type Source interface {
	Lookup(key string) (string, bool)
}

// Get returns the value for key, or "" when absent.
func Get(src Source, key string) string {
	if src == nil {
		return ""
	}
	v, _ := src.Lookup(key)
	return v
}

// GetOr returns the value for key, or def when absent.
func GetOr(src Source, key, def string) string {
	if v := Get(src, key); v != "" {
		return v
	}
	return def
}

// List splits a comma separated value into trimmed, non-empty items.
// Returns nil when the key is absent.
func List(src Source, key string) []string {
	raw := Get(src, key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Env reads from the process environment. Prefix, if set, is prepended to
// every key ("KAITIAKI_" + "OPENAI_API_KEY").
type Env struct {
	Prefix string
}

// Lookup implements Source.
func (e Env) Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(e.Prefix + key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Map is a static Source, mostly useful for tests and embedded defaults.
type Map map[string]string

// Lookup implements Source.
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Chain consults each source in order; the first present value wins.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(key string) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// DotEnv is a Source backed by a .env file. The file is parsed with godotenv
// and kept in memory until Reload. A missing file is an empty source.
type DotEnv struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

// NewDotEnv reads path and returns the source. A missing file is not an
// error; a malformed one is.
func NewDotEnv(path string) (*DotEnv, error) {
	d := &DotEnv{path: path, values: map[string]string{}}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the backing file path.
func (d *DotEnv) Path() string {
	return d.path
}

// Reload re-reads the backing file.
func (d *DotEnv) Reload() error {
	values, err := godotenv.Read(d.path)
	if errors.Is(err, os.ErrNotExist) {
		L_debug("secrets: env file not found, using empty source", "path", d.path)
		values = map[string]string{}
	} else if err != nil {
		return fmt.Errorf("secrets: read %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.values = values
	d.mu.Unlock()

	L_debug("secrets: env file loaded", "path", d.path, "keys", len(values))
	return nil
}

// Lookup implements Source.
func (d *DotEnv) Lookup(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Map(d.values).Lookup(key)
}
