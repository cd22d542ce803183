// Package router selects capable upstream models for each chat request and
// walks them with retry and failover until one answers.
//
// Selection runs in phases: parse the model hint, derive capability
// requirements, enumerate candidates in registry order (skipping providers
// and models that cannot serve the request or lack quota headroom), keep the
// first eligible model per provider, then try candidates with bounded
// retries per provider.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quotapilot/quotapilot/internal/budget"
	"github.com/quotapilot/quotapilot/internal/metrics"
	"github.com/quotapilot/quotapilot/internal/provider"
	llmerrors "github.com/quotapilot/quotapilot/pkg/errors"
	"github.com/quotapilot/quotapilot/pkg/types"
)

const (
	// maxProviders bounds the failover chain for one request.
	maxProviders = 3

	// maxAttempts bounds attempts against a single candidate.
	maxAttempts = 2

	// defaultCompletionEstimate stands in for max_tokens in headroom checks
	// when the request does not set it.
	defaultCompletionEstimate = 256
)

// candidate pairs an adapter with the model selected for it.
type candidate struct {
	adapter provider.Adapter
	model   string
}

// requirements captures what a request demands from a candidate.
type requirements struct {
	providerHint  string
	modelHint     string
	json          bool
	tools         bool
	stream        bool
	estPrompt     int64
	estCompletion int64
}

// Router routes chat requests across registered providers. It is stateless
// between calls and safe for concurrent use.
type Router struct {
	registry *provider.Registry
	budget   *budget.Manager
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithBudget wires quota headroom checks and usage recording into routing.
func WithBudget(m *budget.Manager) Option {
	return func(r *Router) { r.budget = m }
}

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router over the given registry.
func New(registry *provider.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route executes a chat request against the first candidate that answers.
// Rate limits retry the same candidate with backoff, upstream failures move
// to the next one, and client errors surface unchanged. When no candidate
// can serve the request, or every candidate fails, the caller gets a
// no-capable-provider error.
func (r *Router) Route(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	reqs := r.deriveRequirements(req)

	candidates := r.collectCandidates(ctx, reqs)
	if len(candidates) == 0 {
		r.logger.Error("no capable provider candidates",
			"model", req.Model, "json", reqs.json, "tools", reqs.tools, "stream", reqs.stream)
		return nil, llmerrors.NewNoCapableProviderError("no capable provider candidates")
	}

	var lastErr error
	for _, cand := range candidates {
		name := cand.adapter.Name()

		creq := req.Clone()
		creq.Model = cand.model
		creq.Stream = false

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			start := time.Now()
			resp, err := cand.adapter.Chat(ctx, creq)
			latency := time.Since(start)

			if err == nil {
				metrics.RecordAttempt(name, cand.model, http.StatusOK, latency)
				metrics.RecordTokens(name, cand.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
				r.recordSuccess(ctx, name, cand.model, resp.Usage)
				r.logger.Info("request served",
					"provider", name, "model", cand.model,
					"attempt", attempt, "latency_ms", latency.Milliseconds(),
					"total_tokens", resp.Usage.TotalTokens)
				return resp, nil
			}

			lastErr = err
			verdict := Classify(err)
			metrics.RecordAttempt(name, cand.model, verdict.StatusCode, latency)
			r.recordFailure(ctx, name, cand.model, verdict)

			if verdict.Action == RetrySame && attempt < maxAttempts {
				delay := Backoff(attempt, verdict.RetryAfter)
				r.logger.Info("rate limited, retrying same provider",
					"provider", name, "model", cand.model,
					"attempt", attempt, "delay", delay, "status", verdict.StatusCode)
				metrics.RecordRetry(name, cand.model)
				if serr := r.sleep(ctx, delay); serr != nil {
					return nil, serr
				}
				continue
			}

			if verdict.Action == NoRetry {
				r.logger.Warn("non-retryable error, aborting",
					"provider", name, "model", cand.model,
					"status", verdict.StatusCode, "error", err)
				return nil, err
			}

			// switch_provider, or retry budget for this candidate used up
			r.logger.Info("switching provider after error",
				"provider", name, "model", cand.model,
				"status", verdict.StatusCode, "attempt", attempt, "error", err)
			metrics.RecordFailover(name)
			break
		}
	}

	r.logger.Error("all providers exhausted", "model", req.Model, "error", lastErr)
	return nil, llmerrors.NewNoCapableProviderError("all providers exhausted by retry/failover")
}

func (r *Router) deriveRequirements(req *types.ChatRequest) requirements {
	providerHint, modelHint := types.SplitProviderModel(req.Model)

	estCompletion := int64(defaultCompletionEstimate)
	if req.MaxTokens != nil {
		estCompletion = int64(*req.MaxTokens)
	}

	return requirements{
		providerHint:  providerHint,
		modelHint:     modelHint,
		json:          req.WantsJSON(),
		tools:         req.WantsTools(),
		stream:        req.Stream,
		estPrompt:     budget.EstimateTokens(promptText(req)),
		estCompletion: estCompletion,
	}
}

// collectCandidates walks the registry in insertion order and keeps the
// first eligible model per provider, up to maxProviders. A provider whose
// model listing fails is skipped rather than failing the request.
func (r *Router) collectCandidates(ctx context.Context, reqs requirements) []candidate {
	var out []candidate

	for _, adapter := range r.registry.Adapters() {
		if len(out) >= maxProviders {
			break
		}

		name := adapter.Name()
		if reqs.providerHint != "" && name != reqs.providerHint {
			continue
		}

		models, err := adapter.Models(ctx)
		if err != nil {
			r.logger.Warn("skipping provider, model listing failed", "provider", name, "error", err)
			continue
		}

		for _, m := range models {
			if m.Name == "" {
				continue
			}
			if reqs.modelHint != "" && m.Name != reqs.modelHint {
				continue
			}
			if reqs.json && !m.SupportsJSON {
				continue
			}
			if reqs.tools && !m.SupportsTools {
				continue
			}
			if reqs.stream && !m.SupportsStream {
				continue
			}

			if r.budget != nil {
				h := r.budget.CheckHeadroom(ctx, name, m.Name, &reqs.estPrompt, &reqs.estCompletion)
				if !h.CanProceed {
					r.logger.Info("skipping model, no quota headroom", "provider", name, "model", m.Name)
					metrics.RecordHeadroomDenial(name, m.Name)
					continue
				}
			}

			out = append(out, candidate{adapter: adapter, model: m.Name})
			break
		}
	}

	return out
}

func (r *Router) recordSuccess(ctx context.Context, providerName, model string, usage types.Usage) {
	if r.budget == nil {
		return
	}
	r.budget.RecordUsage(ctx, budget.Usage{
		Provider:       providerName,
		Model:          model,
		RequestTokens:  int64(usage.PromptTokens),
		ResponseTokens: int64(usage.CompletionTokens),
		Success:        true,
	})
}

func (r *Router) recordFailure(ctx context.Context, providerName, model string, verdict Verdict) {
	if r.budget == nil {
		return
	}
	u := budget.Usage{Provider: providerName, Model: model}
	if verdict.StatusCode != 0 {
		code := verdict.StatusCode
		u.ErrorCode = &code
	}
	r.budget.RecordUsage(ctx, u)
}

// promptText joins message contents for prompt token estimation.
func promptText(req *types.ChatRequest) string {
	parts := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		parts = append(parts, msg.ContentText())
	}
	return strings.Join(parts, "\n")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
