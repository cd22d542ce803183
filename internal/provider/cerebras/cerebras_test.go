package cerebras

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/provider"
)

func TestNew_Defaults(t *testing.T) {
	a, err := New(provider.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderType, a.Name())
}

func TestModels_StaticTableDefaults(t *testing.T) {
	jsonOff := false
	a, err := New(provider.Config{
		APIKey: "k",
		Models: []provider.ModelSpec{
			{Name: "llama3.1-8b", ContextWindow: 8192},
			{Name: "llama3.1-70b", SupportsJSON: &jsonOff},
		},
	})
	require.NoError(t, err)

	models, err := a.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "llama3.1-8b", models[0].Name)
	assert.Equal(t, 8192, models[0].ContextWindow)
	assert.True(t, models[0].SupportsJSON)
	assert.False(t, models[0].SupportsTools)
	assert.True(t, models[0].SupportsStream)

	assert.False(t, models[1].SupportsJSON)
}
