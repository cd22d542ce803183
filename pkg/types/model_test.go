package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitProviderModel(t *testing.T) {
	tests := []struct {
		hint         string
		wantProvider string
		wantModel    string
	}{
		{"", "", ""},
		{"auto", "", ""},
		{"  auto  ", "", ""},
		{"mistral-small-latest", "", "mistral-small-latest"},
		{"mistral:mistral-small-latest", "mistral", "mistral-small-latest"},
		{"cerebras:llama3.1-8b", "cerebras", "llama3.1-8b"},
		{"p1:a:b", "p1", "a:b"},
		{"p1:", "p1", ""},
		{":alpha", "", "alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			provider, model := SplitProviderModel(tt.hint)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestValidateModelName(t *testing.T) {
	assert.NoError(t, ValidateModelName("mistral-small-latest"))
	assert.Error(t, ValidateModelName(strings.Repeat("x", MaxModelNameLength+1)))
}
