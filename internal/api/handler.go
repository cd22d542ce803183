// Package api provides the HTTP handlers for the gateway.
// It implements OpenAI-compatible endpoints for chat completions plus the
// gateway's own state and health endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/internal/provider"
	llmerrors "github.com/quotapilot/quotapilot/pkg/errors"
	"github.com/quotapilot/quotapilot/pkg/types"
)

// maxBodyBytes is the default cap on inbound request bodies.
const maxBodyBytes = 10 << 20

// Router routes one chat request to an upstream provider.
type Router interface {
	Route(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// Handler handles HTTP requests for the gateway.
type Handler struct {
	registry *provider.Registry
	router   Router
	budget   *budget.Manager
	logger   *slog.Logger
	maxBody  int64
}

// NewHandler creates a new API handler. The budget manager may be nil, in
// which case the state endpoint reports no usage.
func NewHandler(registry *provider.Registry, router Router, budget *budget.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		router:   router,
		budget:   budget,
		logger:   logger,
		maxBody:  maxBodyBytes,
	}
}

// SetMaxBodyBytes overrides the default inbound body cap.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBody = n
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("GET /v1/router/state", h.RouterState)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

// ChatCompletions handles POST /v1/chat/completions. Streaming requests are
// answered with a single-frame SSE stream once the full upstream response is
// available; the gateway does not proxy token deltas.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.writeError(r.Context(), w, llmerrors.NewValidationError("failed to read request body"))
		return
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(r.Context(), w, llmerrors.NewValidationError("invalid JSON: "+err.Error()))
		return
	}

	if err := validateChatRequest(&req); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	resp, err := h.router.Route(r.Context(), &req)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	if req.Stream {
		h.writeSSE(r.Context(), w, resp)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models, aggregating the model listings of all
// registered providers. Providers that fail to list are left out.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	data := make([]modelEntry, 0)
	for _, adapter := range h.registry.Adapters() {
		models, err := adapter.Models(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "model listing failed",
				"provider", adapter.Name(), "error", err)
			continue
		}
		for _, m := range models {
			data = append(data, modelEntry{ID: m.Name, Object: "model", OwnedBy: adapter.Name()})
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

func validateChatRequest(req *types.ChatRequest) error {
	if err := types.ValidateModelName(req.Model); err != nil {
		return llmerrors.NewValidationError(err.Error())
	}
	if len(req.Messages) == 0 {
		return llmerrors.NewValidationError("messages is required")
	}
	for i, msg := range req.Messages {
		if msg.Role == "" {
			return llmerrors.NewValidationError(fmt.Sprintf("messages[%d]: role is required", i))
		}
		if !validRoles[msg.Role] {
			return llmerrors.NewValidationError(fmt.Sprintf("messages[%d]: invalid role %q", i, msg.Role))
		}
	}
	return nil
}

// writeSSE emits the completed response as one SSE data frame followed by
// the [DONE] sentinel, matching what OpenAI streaming clients expect to
// terminate on.
func (h *Handler) writeSSE(ctx context.Context, w http.ResponseWriter, resp *types.ChatResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.writeError(ctx, w, llmerrors.NewInternalError("", resp.Model, "failed to encode response"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var llmErr *llmerrors.LLMError
	if !errors.As(err, &llmErr) {
		llmErr = llmerrors.NewInternalError("", "", err.Error())
	}

	status := llmErr.HTTPStatusCode()
	if status >= 500 {
		h.logger.ErrorContext(ctx, "request failed",
			"status", status, "type", llmErr.Type, "error", err)
	} else {
		h.logger.WarnContext(ctx, "request rejected",
			"status", status, "type", llmErr.Type, "message", llmErr.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ErrorResponse{
		Error: ErrorDetail{
			Message: llmErr.Message,
			Type:    llmErr.Type,
			Code:    llmErr.StatusCode,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
