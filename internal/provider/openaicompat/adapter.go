// Package openaicompat provides the base adapter for OpenAI-compatible chat
// completion providers. Most upstreams follow OpenAI's API format with minor
// variations; concrete providers wrap this base with their endpoint, key
// env var, and model discovery policy.
package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"github.com/quotapilot/quotapilot/internal/httputil"
	"github.com/quotapilot/quotapilot/internal/provider"
	llmerrors "github.com/quotapilot/quotapilot/pkg/errors"
	"github.com/quotapilot/quotapilot/pkg/types"
)

const (
	// DefaultTimeout bounds each upstream call unless configured otherwise.
	DefaultTimeout = 30 * time.Second

	modelsCacheKey   = "models"
	modelsCacheTTL   = 5 * time.Minute
	maxErrorBodySize = 32 << 10
)

// Caps are the capability flags applied to models found via discovery.
type Caps struct {
	JSON   bool
	Tools  bool
	Stream bool
}

// Info contains provider-specific configuration supplied by the concrete
// provider packages.
type Info struct {
	// Name is the provider identifier used when the config carries none.
	Name string

	// DefaultBaseURL is the API endpoint used when the config carries none.
	DefaultBaseURL string

	// DefaultKeyEnv names the env var holding the API key. Falls back to
	// <NAME>_API_KEY.
	DefaultKeyEnv string

	// DefaultModelsEnv names the env var holding the model allowlist.
	DefaultModelsEnv string

	// PreferredModels is the discovery fallback: when no allowlist env is
	// set, discovered models are filtered to this list, in this order.
	PreferredModels []string

	// DiscoveryCaps are the capability flags assumed for discovered models.
	DiscoveryCaps Caps

	// ChatEndpoint and ModelsEndpoint override the default paths.
	ChatEndpoint   string
	ModelsEndpoint string
}

// Adapter implements provider.Adapter against an OpenAI-compatible API.
type Adapter struct {
	info      Info
	name      string
	baseURL   string
	apiKey    string
	modelsEnv string
	static    []types.ModelDescriptor
	client    *http.Client
	cache     *gocache.Cache
	logger    *slog.Logger
}

// New creates an adapter from configuration. The API key resolves from the
// config first, then the key env var; a missing key is logged but not fatal,
// since calls fail upstream and the router falls through to other providers.
func New(cfg provider.Config, info Info) (*Adapter, error) {
	name := cfg.Name
	if name == "" {
		name = info.Name
	}
	if name == "" {
		return nil, fmt.Errorf("provider name required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = info.DefaultBaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url required", name)
	}

	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = info.DefaultKeyEnv
	}
	if keyEnv == "" {
		keyEnv = strings.ToUpper(name) + "_API_KEY"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(keyEnv))
	}
	if apiKey == "" {
		logger.Warn("api key not set; calls will fail until configured", "provider", name, "env", keyEnv)
	}

	modelsEnv := cfg.ModelsEnv
	if modelsEnv == "" {
		modelsEnv = info.DefaultModelsEnv
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		info:      info,
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		modelsEnv: modelsEnv,
		static:    normalizeStatic(cfg.Models),
		client:    client,
		cache:     gocache.New(modelsCacheTTL, 2*modelsCacheTTL),
		logger:    logger,
	}, nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return a.name
}

// Models returns the serveable models. A static table from configuration
// wins outright; otherwise models are discovered from the upstream /models
// endpoint, filtered by the allowlist env var (or the preferred fallback
// list), and cached.
func (a *Adapter) Models(ctx context.Context) ([]types.ModelDescriptor, error) {
	if len(a.static) > 0 {
		return a.static, nil
	}

	if cached, ok := a.cache.Get(modelsCacheKey); ok {
		return cached.([]types.ModelDescriptor), nil
	}

	ids, err := a.fetchModelIDs(ctx)
	if err != nil {
		return nil, err
	}

	selected := a.selectModels(ids)
	descriptors := make([]types.ModelDescriptor, 0, len(selected))
	for _, id := range selected {
		descriptors = append(descriptors, types.ModelDescriptor{
			Name:           id,
			SupportsJSON:   a.info.DiscoveryCaps.JSON,
			SupportsTools:  a.info.DiscoveryCaps.Tools,
			SupportsStream: a.info.DiscoveryCaps.Stream,
		})
	}

	a.cache.Set(modelsCacheKey, descriptors, gocache.DefaultExpiration)
	return descriptors, nil
}

// State probes the models endpoint and reports health plus whatever
// rate-limit headers the provider exposed. Transport failures degrade to
// status "unknown" instead of an error.
func (a *Adapter) State(ctx context.Context) (*types.ProviderState, error) {
	state := &types.ProviderState{Status: types.StatusUnknown}

	req, err := a.newRequest(ctx, http.MethodGet, a.modelsEndpoint(), nil)
	if err != nil {
		return state, nil
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("provider state probe failed", "provider", a.name, "error", err)
		return state, nil
	}
	defer resp.Body.Close()
	httputil.Drain(resp.Body, maxErrorBodySize)

	if resp.StatusCode == http.StatusOK {
		state.Status = types.StatusOK
	} else {
		state.Status = types.StatusDegraded
	}
	state.RateLimit = parseRateLimit(resp.Header)

	return state, nil
}

// Chat executes one chat completion attempt against the upstream API.
func (a *Adapter) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := a.newRequest(ctx, http.MethodPost, a.chatEndpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, llmerrors.NewRateLimitError(
			a.name, req.Model, parseErrorMessage(respBody, "rate limited"), resp.Header)
	}
	if resp.StatusCode >= 400 {
		return nil, llmerrors.NewProviderError(
			a.name, req.Model, resp.StatusCode, parseErrorMessage(respBody, "unknown error"), resp.Header)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Model == "" {
		chatResp.Model = req.Model
	}

	return &chatResp, nil
}

// buildPayload assembles the upstream wire payload. Optional fields appear
// only when set; the json flag becomes a response_format override and never
// reaches the wire itself; unknown passthrough fields merge last without
// clobbering anything the gateway set.
func buildPayload(req *types.ChatRequest) map[string]any {
	payload := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   req.Stream,
	}

	if req.WantsJSON() {
		payload["response_format"] = map[string]string{"type": "json_object"}
	} else if req.ResponseFormat != nil {
		payload["response_format"] = req.ResponseFormat
	}

	if req.MaxTokens != nil {
		payload["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if req.N != nil {
		payload["n"] = *req.N
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	if req.PresencePenalty != nil {
		payload["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		payload["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	if req.Logprobs != nil {
		payload["logprobs"] = *req.Logprobs
	}
	if req.TopLogprobs != nil {
		payload["top_logprobs"] = *req.TopLogprobs
	}
	if req.User != "" {
		payload["user"] = req.User
	}
	if req.Tools != nil {
		payload["tools"] = req.Tools
	}
	if len(req.ToolChoice) > 0 {
		payload["tool_choice"] = req.ToolChoice
	}

	for key, value := range req.Extra {
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}

	return payload
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	return req, nil
}

func (a *Adapter) fetchModelIDs(ctx context.Context) ([]string, error) {
	req, err := a.newRequest(ctx, http.MethodGet, a.modelsEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read models response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llmerrors.NewProviderError(
			a.name, "", resp.StatusCode, parseErrorMessage(body, "list models failed"), resp.Header)
	}

	var list struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("unmarshal models response: %w", err)
	}

	ids := make([]string, 0, len(list.Data))
	for _, item := range list.Data {
		id := item.ID
		if id == "" {
			id = item.Name
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// selectModels applies the allowlist env var when set (keeping discovery
// order), else the preferred fallback list (keeping its order), else all.
func (a *Adapter) selectModels(ids []string) []string {
	if allow := a.allowlist(); len(allow) > 0 {
		allowed := make(map[string]struct{}, len(allow))
		for _, id := range allow {
			allowed[id] = struct{}{}
		}
		selected := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := allowed[id]; ok {
				selected = append(selected, id)
			}
		}
		return selected
	}

	if len(a.info.PreferredModels) > 0 {
		available := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			available[id] = struct{}{}
		}
		selected := make([]string, 0, len(a.info.PreferredModels))
		for _, id := range a.info.PreferredModels {
			if _, ok := available[id]; ok {
				selected = append(selected, id)
			}
		}
		return selected
	}

	return ids
}

func (a *Adapter) allowlist() []string {
	if a.modelsEnv == "" {
		return nil
	}
	var allow []string
	for _, part := range strings.Split(os.Getenv(a.modelsEnv), ",") {
		if part = strings.TrimSpace(part); part != "" {
			allow = append(allow, part)
		}
	}
	return allow
}

func (a *Adapter) chatEndpoint() string {
	if a.info.ChatEndpoint != "" {
		return a.info.ChatEndpoint
	}
	return "/chat/completions"
}

func (a *Adapter) modelsEndpoint() string {
	if a.info.ModelsEndpoint != "" {
		return a.info.ModelsEndpoint
	}
	return "/models"
}

func normalizeStatic(specs []provider.ModelSpec) []types.ModelDescriptor {
	if len(specs) == 0 {
		return nil
	}
	out := make([]types.ModelDescriptor, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		out = append(out, types.ModelDescriptor{
			Name:           spec.Name,
			ContextWindow:  spec.ContextWindow,
			SupportsJSON:   boolOr(spec.SupportsJSON, true),
			SupportsTools:  boolOr(spec.SupportsTools, false),
			SupportsStream: boolOr(spec.SupportsStream, true),
		})
	}
	return out
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// parseRateLimit reads the conventional rate-limit headers, supporting both
// the x-ratelimit-* family and the bare ratelimit-* fallback on the requests
// axis.
func parseRateLimit(h http.Header) types.RateLimitSnapshot {
	return types.RateLimitSnapshot{
		LimitRequests:     headerInt(h, "x-ratelimit-limit-requests", "ratelimit-limit"),
		RemainingRequests: headerInt(h, "x-ratelimit-remaining-requests", "ratelimit-remaining"),
		LimitTokens:       headerInt(h, "x-ratelimit-limit-tokens"),
		RemainingTokens:   headerInt(h, "x-ratelimit-remaining-tokens"),
		ResetRequests:     headerFirst(h, "x-ratelimit-reset-requests", "ratelimit-reset"),
		ResetTokens:       headerFirst(h, "x-ratelimit-reset-tokens"),
	}
}

func headerInt(h http.Header, keys ...string) *int64 {
	raw := headerFirst(h, keys...)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func headerFirst(h http.Header, keys ...string) string {
	for _, key := range keys {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return ""
}

func parseErrorMessage(body []byte, fallback string) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return fallback
}
