package llm

import (
	"fmt"
	"strings"
)

// Kind is a provider family. The set is closed: every Kind has exactly one
// adapter slot in Providers.
type Kind string

const (
	KindOpenAI    Kind = "openai"    // hosted OpenAI-compatible chat completions
	KindOllama    Kind = "ollama"    // local inference server
	KindAnthropic Kind = "anthropic" // Anthropic messages API
	KindAzure     Kind = "azure"     // Azure OpenAI deployments
	KindXAI       Kind = "xai"       // xAI gRPC API
)

// Kinds returns every Kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindOpenAI, KindOllama, KindAnthropic, KindAzure, KindXAI}
}

// DefaultChain is the fallback order used when none is configured.
func DefaultChain() []Kind {
	return []Kind{KindOpenAI, KindAnthropic, KindAzure, KindXAI, KindOllama}
}

// ParseKind maps a name to a Kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown provider kind %q", s)
}

// ParseChain parses a list of kind names, rejecting unknown and repeated
// entries.
func ParseChain(names []string) ([]Kind, error) {
	chain := make([]Kind, 0, len(names))
	seen := make(map[Kind]bool, len(names))
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("provider kind %q listed twice in fallback chain", k)
		}
		seen[k] = true
		chain = append(chain, k)
	}
	return chain, nil
}

// Local reports whether the kind runs on-box and needs no credential.
func (k Kind) Local() bool {
	return k == KindOllama
}

func (k Kind) String() string { return string(k) }
