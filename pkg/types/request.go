// Package types defines core data structures for gateway requests and responses.
// All types are designed to be compatible with OpenAI's Chat Completion API format.
package types //nolint:revive // package name is intentional

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

// ChatRequest represents an OpenAI-compatible chat completion request.
// It is the unified input format for all provider adapters.
//
// JSON is a gateway extension: when true the upstream payload carries
// response_format {"type":"json_object"} and the flag itself is stripped
// from the wire.
type ChatRequest struct {
	Model            string            `json:"model"`
	Messages         []ChatMessage     `json:"messages"`
	JSON             bool              `json:"json,omitempty"`
	ResponseFormat   *ResponseFormat   `json:"response_format,omitempty"`
	Tools            []json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage   `json:"tool_choice,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	N                *int              `json:"n,omitempty"`
	Stop             json.RawMessage   `json:"stop,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	Seed             *int              `json:"seed,omitempty"`
	Logprobs         *bool             `json:"logprobs,omitempty"`
	TopLogprobs      *int              `json:"top_logprobs,omitempty"`
	User             string            `json:"user,omitempty"`

	// Extra holds parameters the gateway does not inspect. They are passed
	// through to the upstream payload unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

var chatRequestKnownFields = map[string]struct{}{
	"model":             {},
	"messages":          {},
	"json":              {},
	"response_format":   {},
	"tools":             {},
	"tool_choice":       {},
	"stream":            {},
	"max_tokens":        {},
	"temperature":       {},
	"top_p":             {},
	"n":                 {},
	"stop":              {},
	"presence_penalty":  {},
	"frequency_penalty": {},
	"seed":              {},
	"logprobs":          {},
	"top_logprobs":      {},
	"user":              {},
}

// MarshalJSON merges Extra fields without overriding explicitly set fields.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type Alias ChatRequest

	base, err := json.Marshal(Alias(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(base, &payload); err != nil {
		return nil, err
	}

	for key, value := range r.Extra {
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}

	return json.Marshal(payload)
}

// UnmarshalJSON captures unknown fields into Extra for passthrough.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type Alias ChatRequest

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	var parsed Alias
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	*r = ChatRequest(parsed)
	for key := range chatRequestKnownFields {
		delete(payload, key)
	}

	if len(payload) == 0 {
		r.Extra = nil
	} else {
		r.Extra = payload
	}

	return nil
}

// Clone returns a shallow copy for per-attempt mutation of top-level fields
// (model, stream). Nested slices and maps are shared and must not be mutated.
func (r *ChatRequest) Clone() *ChatRequest {
	cp := *r
	return &cp
}

// WantsJSON reports whether the request demands JSON output, either through
// the json flag or an explicit response_format of type json_object.
func (r *ChatRequest) WantsJSON() bool {
	if r.JSON {
		return true
	}
	return r.ResponseFormat != nil && r.ResponseFormat.Type == "json_object"
}

// WantsTools reports whether the request carries tool definitions. Presence
// counts, even an empty list.
func (r *ChatRequest) WantsTools() bool {
	return r.Tools != nil
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentText extracts the plain text of the message content. String content
// is returned as-is; multipart content concatenates its text parts; anything
// else yields an empty string.
func (m ChatMessage) ContentText() string {
	if len(m.Content) == 0 {
		return ""
	}

	if bytes.Equal(m.Content, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text
	}

	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}

	return ""
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseFormat specifies the output format for the model.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}
