package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/internal/provider"
	"github.com/quotapilot/quotapilot/internal/store"
	llmerrors "github.com/quotapilot/quotapilot/pkg/errors"
	"github.com/quotapilot/quotapilot/pkg/types"
)

// stubRouter returns a canned response or error and captures the request.
type stubRouter struct {
	resp *types.ChatResponse
	err  error
	got  *types.ChatRequest
}

func (s *stubRouter) Route(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// stubAdapter is a canned provider.Adapter for handler tests.
type stubAdapter struct {
	name      string
	models    []types.ModelDescriptor
	modelsErr error
	state     *types.ProviderState
	stateErr  error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Models(context.Context) ([]types.ModelDescriptor, error) {
	return s.models, s.modelsErr
}

func (s *stubAdapter) State(context.Context) (*types.ProviderState, error) {
	return s.state, s.stateErr
}

func (s *stubAdapter) Chat(context.Context, *types.ChatRequest) (*types.ChatResponse, error) {
	return nil, errors.New("not wired in handler tests")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMux(t *testing.T, rt Router, bm *budget.Manager, adapters ...provider.Adapter) *http.ServeMux {
	t.Helper()
	registry := provider.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	h := NewHandler(registry, rt, bm, testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func okResponse() *types.ChatResponse {
	return &types.ChatResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "m1",
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: "assistant", Content: json.RawMessage(`"hi"`)},
			FinishReason: "stop",
		}},
		Usage: types.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
}

func postChat(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeErrorEnvelope(t *testing.T, body *bytes.Buffer) ErrorResponse {
	t.Helper()
	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &envelope))
	return envelope
}

func TestChatCompletions_OK(t *testing.T) {
	rt := &stubRouter{resp: okResponse()}
	mux := newTestMux(t, rt, nil)

	rec := postChat(t, mux, `{"model":"m1","messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	require.NotNil(t, rt.got)
	assert.Equal(t, "m1", rt.got.Model)
	require.Len(t, rt.got.Messages, 1)
	assert.Equal(t, "user", rt.got.Messages[0].Role)
}

func TestChatCompletions_EmptyModelAllowed(t *testing.T) {
	rt := &stubRouter{resp: okResponse()}
	mux := newTestMux(t, rt, nil)

	rec := postChat(t, mux, `{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, rt.got)
	assert.Empty(t, rt.got.Model)
}

func TestChatCompletions_StreamEmitsSSEFrames(t *testing.T) {
	rt := &stubRouter{resp: okResponse()}
	mux := newTestMux(t, rt, nil)

	rec := postChat(t, mux, `{"model":"m1","stream":true,"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), "missing DONE sentinel: %q", body)

	frame := strings.TrimSuffix(body, "data: [DONE]\n\n")
	require.True(t, strings.HasPrefix(frame, "data: "), "missing data frame: %q", body)
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &resp))
	assert.Equal(t, "chatcmpl-1", resp.ID)

	// The upstream call itself must not ask for a token stream.
	require.NotNil(t, rt.got)
	assert.True(t, rt.got.Stream)
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	mux := newTestMux(t, &stubRouter{resp: okResponse()}, nil)

	rec := postChat(t, mux, `{"model":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeErrorEnvelope(t, rec.Body)
	assert.Equal(t, llmerrors.TypeInvalidRequest, envelope.Error.Type)
	assert.Contains(t, envelope.Error.Message, "invalid JSON")
}

func TestChatCompletions_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "no messages",
			body:    `{"model":"m1"}`,
			wantMsg: "messages is required",
		},
		{
			name:    "empty messages",
			body:    `{"model":"m1","messages":[]}`,
			wantMsg: "messages is required",
		},
		{
			name:    "missing role",
			body:    `{"model":"m1","messages":[{"content":"hi"}]}`,
			wantMsg: "messages[0]: role is required",
		},
		{
			name:    "invalid role",
			body:    `{"model":"m1","messages":[{"role":"robot","content":"hi"}]}`,
			wantMsg: `messages[0]: invalid role "robot"`,
		},
		{
			name:    "model name too long",
			body:    `{"model":"` + strings.Repeat("x", 300) + `","messages":[{"role":"user","content":"hi"}]}`,
			wantMsg: "model is too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &stubRouter{resp: okResponse()}
			mux := newTestMux(t, rt, nil)

			rec := postChat(t, mux, tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			envelope := decodeErrorEnvelope(t, rec.Body)
			assert.Equal(t, llmerrors.TypeInvalidRequest, envelope.Error.Type)
			assert.Contains(t, envelope.Error.Message, tt.wantMsg)
			assert.Nil(t, rt.got, "router must not run for invalid requests")
		})
	}
}

func TestChatCompletions_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "no capable provider",
			err:        llmerrors.NewNoCapableProviderError("no capable provider candidates"),
			wantStatus: http.StatusServiceUnavailable,
			wantType:   llmerrors.TypeNoCapableProvider,
		},
		{
			name:       "upstream rate limit",
			err:        llmerrors.NewRateLimitError("mistral", "m1", "rate limited", nil),
			wantStatus: http.StatusTooManyRequests,
			wantType:   llmerrors.TypeRateLimit,
		},
		{
			name:       "upstream client error keeps status",
			err:        llmerrors.NewProviderError("mistral", "m1", http.StatusUnauthorized, "bad key", nil),
			wantStatus: http.StatusUnauthorized,
			wantType:   llmerrors.TypeAuthentication,
		},
		{
			name:       "plain error becomes internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   llmerrors.TypeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, &stubRouter{err: tt.err}, nil)

			rec := postChat(t, mux, `{"model":"m1","messages":[{"role":"user","content":"hello"}]}`)

			require.Equal(t, tt.wantStatus, rec.Code)
			envelope := decodeErrorEnvelope(t, rec.Body)
			assert.Equal(t, tt.wantType, envelope.Error.Type)
			assert.Equal(t, tt.wantStatus, envelope.Error.Code)
		})
	}
}

func TestListModels_AggregatesProviders(t *testing.T) {
	p1 := &stubAdapter{name: "p1", models: []types.ModelDescriptor{
		{Name: "m1"}, {Name: "m2"},
	}}
	p2 := &stubAdapter{name: "p2", modelsErr: errors.New("listing down")}
	p3 := &stubAdapter{name: "p3", models: []types.ModelDescriptor{{Name: "m3"}}}
	mux := newTestMux(t, &stubRouter{}, nil, p1, p2, p3)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "m1", resp.Data[0].ID)
	assert.Equal(t, "p1", resp.Data[0].OwnedBy)
	assert.Equal(t, "model", resp.Data[0].Object)
	assert.Equal(t, "m3", resp.Data[2].ID)
	assert.Equal(t, "p3", resp.Data[2].OwnedBy)
}

func TestHealthCheck(t *testing.T) {
	mux := newTestMux(t, &stubRouter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterState_ReportsUsageAndHeadroom(t *testing.T) {
	rpm := int64(5)
	bm := budget.NewManager(store.NewMemoryStore(), budget.Table{
		"p1": {"m1": budget.Limits{RPM: &rpm}},
	}, testLogger())
	bm.RecordUsage(context.Background(), budget.Usage{
		Provider:       "p1",
		Model:          "m1",
		RequestTokens:  10,
		ResponseTokens: 5,
		Success:        true,
	})

	p1 := &stubAdapter{
		name:   "p1",
		models: []types.ModelDescriptor{{Name: "m1"}},
		state:  &types.ProviderState{Status: types.StatusOK},
	}
	p2 := &stubAdapter{
		name:     "p2",
		models:   []types.ModelDescriptor{{Name: "m2"}},
		stateErr: errors.New("probe failed"),
	}
	mux := newTestMux(t, &stubRouter{}, bm, p1, p2)

	req := httptest.NewRequest(http.MethodGet, "/v1/router/state", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var state map[string]ProviderStateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Contains(t, state, "p1")
	require.Contains(t, state, "p2")

	assert.Equal(t, types.StatusOK, state["p1"].Health.Status)
	assert.Equal(t, types.StatusUnknown, state["p2"].Health.Status, "probe error reports unknown")

	m1 := state["p1"].Models["m1"]
	assert.Equal(t, int64(1), m1.Usage.Minute.Requests)
	assert.Equal(t, int64(15), m1.Usage.Minute.Tokens)
	require.NotNil(t, m1.Headroom.RPM)
	assert.Equal(t, int64(4), *m1.Headroom.RPM)
	assert.Nil(t, m1.Headroom.TPM, "unbounded axis stays nil")

	m2 := state["p2"].Models["m2"]
	assert.Nil(t, m2.Headroom.RPM)
}

func TestRouterState_NoBudgetManager(t *testing.T) {
	p1 := &stubAdapter{
		name:   "p1",
		models: []types.ModelDescriptor{{Name: "m1"}},
		state:  &types.ProviderState{Status: types.StatusOK},
	}
	mux := newTestMux(t, &stubRouter{}, nil, p1)

	req := httptest.NewRequest(http.MethodGet, "/v1/router/state", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var state map[string]ProviderStateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Contains(t, state, "p1")
	assert.Contains(t, state["p1"].Models, "m1")
}
