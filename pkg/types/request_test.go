package types //nolint:revive // package name is intentional

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestUnmarshal_ExtraFieldsCaptured(t *testing.T) {
	data := []byte(`{
		"model": "mistral-small-latest",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.5,
		"seed": 7,
		"foo": "bar",
		"nested": {"enabled": true}
	}`)

	var req ChatRequest
	err := json.Unmarshal(data, &req)
	require.NoError(t, err)

	require.NotNil(t, req.Extra)
	assert.JSONEq(t, `"bar"`, string(req.Extra["foo"]))
	assert.JSONEq(t, `{"enabled": true}`, string(req.Extra["nested"]))
	assert.NotContains(t, req.Extra, "model")
	assert.NotContains(t, req.Extra, "messages")
	assert.NotContains(t, req.Extra, "temperature")
	assert.NotContains(t, req.Extra, "seed")
	require.NotNil(t, req.Seed)
	assert.Equal(t, 7, *req.Seed)
}

func TestChatRequestUnmarshal_NoExtraFields(t *testing.T) {
	data := []byte(`{
		"model": "auto",
		"messages": [{"role": "user", "content": "hi"}],
		"stream": true
	}`)

	var req ChatRequest
	err := json.Unmarshal(data, &req)
	require.NoError(t, err)

	assert.Nil(t, req.Extra)
	assert.True(t, req.Stream)
}

func TestChatRequestMarshal_ExtraDoesNotClobberKnown(t *testing.T) {
	req := ChatRequest{
		Model:    "alpha",
		Messages: []ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Extra: map[string]json.RawMessage{
			"model":      json.RawMessage(`"evil"`),
			"logit_bias": json.RawMessage(`{"50256": -100}`),
		},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.JSONEq(t, `"alpha"`, string(out["model"]))
	assert.JSONEq(t, `{"50256": -100}`, string(out["logit_bias"]))
}

func TestChatRequestWantsJSON(t *testing.T) {
	assert.False(t, (&ChatRequest{}).WantsJSON())
	assert.True(t, (&ChatRequest{JSON: true}).WantsJSON())
	assert.True(t, (&ChatRequest{ResponseFormat: &ResponseFormat{Type: "json_object"}}).WantsJSON())
	assert.False(t, (&ChatRequest{ResponseFormat: &ResponseFormat{Type: "text"}}).WantsJSON())
}

func TestChatRequestWantsTools_PresenceCounts(t *testing.T) {
	assert.False(t, (&ChatRequest{}).WantsTools())
	assert.True(t, (&ChatRequest{Tools: []json.RawMessage{}}).WantsTools())
	assert.True(t, (&ChatRequest{Tools: []json.RawMessage{json.RawMessage(`{"type":"function"}`)}}).WantsTools())
}

func TestChatRequestUnmarshal_EmptyToolsStaysPresent(t *testing.T) {
	data := []byte(`{
		"model": "alpha",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": []
	}`)

	var req ChatRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.NotNil(t, req.Tools)
	assert.Len(t, req.Tools, 0)
}

func TestChatRequestClone_IndependentTopLevel(t *testing.T) {
	req := &ChatRequest{
		Model:    "auto",
		Stream:   true,
		Messages: []ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}

	cp := req.Clone()
	cp.Model = "beta"
	cp.Stream = false

	assert.Equal(t, "auto", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, "beta", cp.Model)
}

func TestChatMessageContentText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `"hello world"`, "hello world"},
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"parts", `[{"type":"text","text":"a"},{"type":"image_url","image_url":{}},{"type":"text","text":"b"}]`, "ab"},
		{"object", `{"weird":true}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ChatMessage{Role: "user", Content: json.RawMessage(tt.content)}
			assert.Equal(t, tt.want, msg.ContentText())
		})
	}
}
