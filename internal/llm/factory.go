package llm

import (
	"fmt"
	"os"
)

type providerSpec struct {
	// keyEnv names the variable holding the API key; empty means none is needed.
	keyEnv string
	build  func(key, model string) Provider
}

var providers = map[string]providerSpec{
	"anthropic": {
		keyEnv: "ANTHROPIC_API_KEY",
		build:  func(key, model string) Provider { return NewAnthropicProvider(key, model) },
	},
	"openai": {
		keyEnv: "OPENAI_API_KEY",
		build:  func(key, model string) Provider { return NewOpenAIProvider(key, model) },
	},
	"openrouter": {
		keyEnv: "OPENROUTER_API_KEY",
		build: func(key, model string) Provider {
			return NewOpenAICompatibleProvider("openrouter", openRouterBaseURL, key, model)
		},
	},
	"ollama": {
		build: func(_, model string) Provider {
			return NewOllamaProvider(orDefault(os.Getenv("OLLAMA_HOST"), defaultOllamaHost), model)
		},
	},
}

// ProviderTypes lists the values NewProvider accepts.
var ProviderTypes = []string{"anthropic", "openai", "openrouter", "ollama"}

// APIKeyEnv returns the environment variable that holds the API key for
// providerType, or "" when the provider needs none.
func APIKeyEnv(providerType string) string {
	return providers[providerType].keyEnv
}

// NewProvider builds the provider named by providerType. Keys come from
// the environment and are never read from the config file.
func NewProvider(providerType string, model string) (Provider, error) {
	spec, ok := providers[providerType]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	var key string
	if spec.keyEnv != "" {
		key = os.Getenv(spec.keyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s environment variable is not set", spec.keyEnv)
		}
	}
	return spec.build(key, model), nil
}
