// Package openai implements the adapter for OpenAI and for self-hosted
// OpenAI-compatible endpoints.
// API Reference: https://platform.openai.com/docs/api-reference
package openai

import (
	"github.com/quotapilot/quotapilot/internal/provider"
	"github.com/quotapilot/quotapilot/internal/provider/openaicompat"
)

const (
	// ProviderType is the config type string for this provider.
	ProviderType = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// New creates a new OpenAI provider instance.
func New(cfg provider.Config) (provider.Adapter, error) {
	return openaicompat.New(cfg, openaicompat.Info{
		Name:             ProviderType,
		DefaultBaseURL:   DefaultBaseURL,
		DefaultKeyEnv:    "OPENAI_API_KEY",
		DefaultModelsEnv: "OPENAI_MODELS",
		DiscoveryCaps:    openaicompat.Caps{JSON: true, Tools: true, Stream: true},
	})
}
