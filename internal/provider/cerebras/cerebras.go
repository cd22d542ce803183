// Package cerebras implements the Cerebras inference provider adapter.
// API Reference: https://inference-docs.cerebras.ai/api-reference
//
// Cerebras deployments usually pin their model list in configuration;
// discovery is a fallback with conservative capability flags.
package cerebras

import (
	"github.com/quotapilot/quotapilot/internal/provider"
	"github.com/quotapilot/quotapilot/internal/provider/openaicompat"
)

const (
	// ProviderType is the config type string for this provider.
	ProviderType = "cerebras"

	// DefaultBaseURL is the default Cerebras API endpoint.
	DefaultBaseURL = "https://api.cerebras.ai/v1"
)

// New creates a new Cerebras provider instance.
func New(cfg provider.Config) (provider.Adapter, error) {
	return openaicompat.New(cfg, openaicompat.Info{
		Name:             ProviderType,
		DefaultBaseURL:   DefaultBaseURL,
		DefaultKeyEnv:    "CEREBRAS_API_KEY",
		DefaultModelsEnv: "CEREBRAS_MODELS",
		DiscoveryCaps:    openaicompat.Caps{JSON: true, Tools: false, Stream: true},
	})
}
