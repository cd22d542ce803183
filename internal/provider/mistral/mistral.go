// Package mistral implements the Mistral AI provider adapter.
// API Reference: https://docs.mistral.ai/api/
package mistral

import (
	"github.com/quotapilot/quotapilot/internal/provider"
	"github.com/quotapilot/quotapilot/internal/provider/openaicompat"
)

const (
	// ProviderType is the config type string for this provider.
	ProviderType = "mistral"

	// DefaultBaseURL is the default Mistral AI API endpoint.
	DefaultBaseURL = "https://api.mistral.ai/v1"

	// ModelsEnv names the optional allowlist of serveable models.
	ModelsEnv = "MISTRAL_FREE_MODELS"
)

// PreferredModels is the free-tier rotation used when no allowlist is set.
// Discovered models are filtered to this list, in this order.
var PreferredModels = []string{
	"mistral-tiny",
	"mistral-small-latest",
	"open-mixtral-8x7b",
	"open-mistral-7b",
	"ministral-3b-latest",
}

// New creates a new Mistral AI provider instance.
func New(cfg provider.Config) (provider.Adapter, error) {
	return openaicompat.New(cfg, openaicompat.Info{
		Name:             ProviderType,
		DefaultBaseURL:   DefaultBaseURL,
		DefaultKeyEnv:    "MISTRAL_API_KEY",
		DefaultModelsEnv: ModelsEnv,
		PreferredModels:  PreferredModels,
		DiscoveryCaps:    openaicompat.Caps{JSON: true, Tools: true, Stream: true},
	})
}
