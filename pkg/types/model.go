package types

import (
	"fmt"
	"strings"
)

const MaxModelNameLength = 256

// ValidateModelName checks that a model name is within acceptable bounds.
func ValidateModelName(model string) error {
	if len(model) > MaxModelNameLength {
		return fmt.Errorf("model is too long (max %d characters)", MaxModelNameLength)
	}
	return nil
}

// ModelDescriptor describes a model a provider can serve, with the
// capability flags routing decisions depend on. A zero ContextWindow means
// the window is unknown.
type ModelDescriptor struct {
	Name           string `json:"name"`
	ContextWindow  int    `json:"context_window,omitempty"`
	SupportsJSON   bool   `json:"supports_json"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsStream bool   `json:"supports_stream"`
}

// SplitProviderModel splits "provider:model" routing hints. Empty hints and
// the literal "auto" mean no constraint at all. A hint without a colon
// constrains only the model. An empty half of a colon hint constrains
// nothing on that side.
func SplitProviderModel(hint string) (provider string, model string) {
	hint = strings.TrimSpace(hint)
	if hint == "" || hint == "auto" {
		return "", ""
	}
	if idx := strings.Index(hint, ":"); idx >= 0 {
		return hint[:idx], hint[idx+1:]
	}
	return "", hint
}
