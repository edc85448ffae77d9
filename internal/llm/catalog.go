package llm

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/roelfdiedericks/kaitiaki/internal/secrets"
)

// CatalogEntry describes how one provider kind is configured from secrets.
type CatalogEntry struct {
	Kind Kind

	// CredentialKeys must all be present. The first is the credential.
	CredentialKeys []string

	// EndpointKey overrides DefaultEndpoint when present. For kinds whose
	// endpoint is itself required it is also listed in CredentialKeys.
	EndpointKey     string
	DefaultEndpoint string

	// ModelsKey holds a comma separated override of DefaultModels.
	ModelsKey     string
	DefaultModels []string
}

// DefaultCatalog returns the built-in provider catalog, in registry order.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			Kind:            KindOpenAI,
			CredentialKeys:  []string{"OPENAI_API_KEY"},
			EndpointKey:     "OPENAI_BASE_URL",
			DefaultEndpoint: "https://api.openai.com",
			ModelsKey:       "OPENAI_MODELS",
			DefaultModels:   []string{"gpt-4", "gpt-3.5-turbo"},
		},
		{
			Kind:            KindOllama,
			EndpointKey:     "OLLAMA_URL",
			DefaultEndpoint: "http://localhost:11434",
			ModelsKey:       "OLLAMA_MODELS",
			DefaultModels:   []string{"llama3", "codellama"},
		},
		{
			Kind:            KindAnthropic,
			CredentialKeys:  []string{"ANTHROPIC_API_KEY"},
			EndpointKey:     "ANTHROPIC_BASE_URL",
			DefaultEndpoint: "https://api.anthropic.com",
			ModelsKey:       "ANTHROPIC_MODELS",
			DefaultModels:   []string{"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest"},
		},
		{
			Kind:           KindAzure,
			CredentialKeys: []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"},
			EndpointKey:    "AZURE_OPENAI_ENDPOINT",
			ModelsKey:      "AZURE_OPENAI_DEPLOYMENTS",
		},
		{
			Kind:            KindXAI,
			CredentialKeys:  []string{"XAI_API_KEY"},
			DefaultEndpoint: "api.x.ai:443",
			ModelsKey:       "XAI_MODELS",
			DefaultModels:   []string{"grok-3", "grok-3-mini"},
		},
	}
}

// Build synthesizes the model map from secrets. Entries whose prerequisites
// are unmet contribute no models and one ConfigurationError each; Build
// itself never fails. Duplicate model names keep the first entry.
func Build(src secrets.Source, catalog []CatalogEntry, params Params) (*orderedmap.OrderedMap[string, ModelConfig], []ConfigurationError) {
	params = params.normalized()
	models := orderedmap.New[string, ModelConfig]()
	var diags []ConfigurationError

	for _, entry := range catalog {
		var missing string
		for _, key := range entry.CredentialKeys {
			if secrets.Get(src, key) == "" {
				missing = key
				break
			}
		}
		if missing != "" {
			diags = append(diags, ConfigurationError{Kind: entry.Kind, Key: missing, Reason: "required secret not set"})
			continue
		}

		credential := ""
		if len(entry.CredentialKeys) > 0 {
			credential = secrets.Get(src, entry.CredentialKeys[0])
		}

		endpoint := entry.DefaultEndpoint
		if entry.EndpointKey != "" {
			endpoint = secrets.GetOr(src, entry.EndpointKey, endpoint)
		}
		endpoint = strings.TrimSuffix(endpoint, "/")

		names := entry.DefaultModels
		if entry.ModelsKey != "" {
			if override := secrets.List(src, entry.ModelsKey); len(override) > 0 {
				names = override
			}
		}
		if len(names) == 0 {
			diags = append(diags, ConfigurationError{Kind: entry.Kind, Key: entry.ModelsKey, Reason: "no models configured"})
			continue
		}

		for _, name := range names {
			if existing, dup := models.Get(name); dup {
				diags = append(diags, ConfigurationError{
					Kind:   entry.Kind,
					Model:  name,
					Reason: "duplicate model name, already provided by " + string(existing.Kind),
				})
				continue
			}
			models.Set(name, ModelConfig{
				Name:        name,
				Kind:        entry.Kind,
				Endpoint:    endpoint,
				Credential:  credential,
				MaxTokens:   params.MaxTokens,
				Temperature: params.Temperature,
			})
		}
	}

	return models, diags
}
