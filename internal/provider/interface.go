// Package provider defines the interface for upstream LLM provider adapters.
// Each provider (Mistral, Cerebras, any OpenAI-compatible endpoint)
// implements this interface and owns its HTTP communication.
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quotapilot/quotapilot/pkg/types"
)

// Adapter is the contract between the router and one upstream provider.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Name returns the provider identifier (e.g., "mistral", "cerebras").
	Name() string

	// Models returns the models this provider can serve right now, with
	// capability flags. Implementations may cache. Callers treat an error
	// as "no models available" and move on.
	Models(ctx context.Context) ([]types.ModelDescriptor, error)

	// State probes provider health. It reports rather than fails: transport
	// problems yield status "unknown", not an error.
	State(ctx context.Context) (*types.ProviderState, error)

	// Chat executes one chat completion attempt. Rate limiting (429) and
	// other upstream failures surface as *llmerrors.LLMError with the exact
	// status code and response headers; transport errors propagate wrapped.
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// ModelSpec is a statically configured model entry. Capability flags are
// tri-state: nil means "not specified", letting each adapter apply its own
// defaults.
type ModelSpec struct {
	Name           string
	ContextWindow  int
	SupportsJSON   *bool
	SupportsTools  *bool
	SupportsStream *bool
}

// Config carries everything needed to construct an adapter.
type Config struct {
	Name      string
	Type      string
	BaseURL   string
	APIKey    string
	APIKeyEnv string

	// Models is the static model table. When non-empty it takes precedence
	// over discovery against the upstream /models endpoint.
	Models []ModelSpec

	// ModelsEnv names an env var holding a comma-separated allowlist of
	// model IDs applied to discovery results.
	ModelsEnv string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Factory creates adapter instances from configuration.
type Factory func(cfg Config) (Adapter, error)
