// Package budget enforces advisory per-provider, per-model quotas over
// sliding usage windows. Checks are read-before-write: concurrent requests
// may briefly overshoot a cap, which is acceptable for free-tier style
// limits.
package budget

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quotapilot/quotapilot/internal/metrics"
	"github.com/quotapilot/quotapilot/internal/store"
)

// Limits caps one provider/model pair. Nil means unbounded on that axis.
type Limits struct {
	RPM *int64 `yaml:"rpm" json:"rpm"`
	RPD *int64 `yaml:"rpd" json:"rpd"`
	TPM *int64 `yaml:"tpm" json:"tpm"`
	TPD *int64 `yaml:"tpd" json:"tpd"`
}

func (l Limits) unbounded() bool {
	return l.RPM == nil && l.RPD == nil && l.TPM == nil && l.TPD == nil
}

// Table maps provider -> model (or "default") -> limits. A missing provider
// falls back to the "default" provider table, a missing model to the
// "default" row. Missing everything means unbounded.
type Table map[string]map[string]Limits

// Stats is the usage snapshot the headroom math runs on.
type Stats struct {
	Minute store.Window `json:"minute"`
	Day    store.Window `json:"day"`
}

// Remaining reports per-axis headroom left. Nil mirrors an unbounded cap.
type Remaining struct {
	RPM *int64 `json:"rpm"`
	RPD *int64 `json:"rpd"`
	TPM *int64 `json:"tpm"`
	TPD *int64 `json:"tpd"`
}

// Headroom is the outcome of a quota check.
type Headroom struct {
	CanProceed bool      `json:"can_proceed"`
	Remaining  Remaining `json:"remaining"`
}

// Usage describes one attempt to record. Failed attempts carry zero tokens.
type Usage struct {
	Provider       string
	Model          string
	RequestTokens  int64
	ResponseTokens int64
	Success        bool
	ErrorCode      *int
}

// Manager answers headroom questions and records usage rows. It is safe for
// concurrent use; the limit table swaps atomically on config reload.
type Manager struct {
	store  store.Store
	table  atomic.Pointer[Table]
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a budget manager over the given store and limit table.
func NewManager(st store.Store, table Table, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
	if table == nil {
		table = Table{}
	}
	m.table.Store(&table)
	return m
}

// ReplaceTable swaps the limit table. In-flight checks keep the table they
// started with.
func (m *Manager) ReplaceTable(table Table) {
	if table == nil {
		table = Table{}
	}
	m.table.Store(&table)
}

// EstimateTokens approximates the token count of a text as one token per
// four bytes, never below one.
func EstimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n < 1 {
		return 1
	}
	return n
}

// UsageStats returns the minute and day windows for a provider/model pair.
// Aggregation failures degrade to zeros so that routing stays available.
func (m *Manager) UsageStats(ctx context.Context, provider, model string) Stats {
	now := m.now().UTC()

	minute, err := m.store.Aggregate(ctx, provider, model, now.Add(-time.Minute))
	if err != nil {
		m.logger.Warn("usage aggregation failed", "provider", provider, "model", model, "error", err)
		metrics.RecordUsageStoreError("aggregate")
		return Stats{}
	}
	day, err := m.store.Aggregate(ctx, provider, model, now.Add(-24*time.Hour))
	if err != nil {
		m.logger.Warn("usage aggregation failed", "provider", provider, "model", model, "error", err)
		metrics.RecordUsageStoreError("aggregate")
		return Stats{}
	}

	return Stats{Minute: minute, Day: day}
}

// CheckHeadroom decides whether one more attempt fits under the caps.
// Request counts are compared strictly (a used-up cap blocks), token caps
// admit an estimate that lands exactly on the cap. When every cap is nil the
// store is not consulted at all.
func (m *Manager) CheckHeadroom(ctx context.Context, provider, model string, estPrompt, estCompletion *int64) Headroom {
	limits := m.limitsFor(provider, model)
	if limits.unbounded() {
		return Headroom{CanProceed: true}
	}

	stats := m.UsageStats(ctx, provider, model)

	var estTotal int64
	if estPrompt != nil {
		estTotal += *estPrompt
	}
	if estCompletion != nil {
		estTotal += *estCompletion
	}

	h := Headroom{CanProceed: true}
	if limits.RPM != nil {
		if stats.Minute.Requests >= *limits.RPM {
			h.CanProceed = false
		}
		h.Remaining.RPM = remaining(*limits.RPM, stats.Minute.Requests)
	}
	if limits.RPD != nil {
		if stats.Day.Requests >= *limits.RPD {
			h.CanProceed = false
		}
		h.Remaining.RPD = remaining(*limits.RPD, stats.Day.Requests)
	}
	if limits.TPM != nil {
		if stats.Minute.Tokens+estTotal > *limits.TPM {
			h.CanProceed = false
		}
		h.Remaining.TPM = remaining(*limits.TPM, stats.Minute.Tokens)
	}
	if limits.TPD != nil {
		if stats.Day.Tokens+estTotal > *limits.TPD {
			h.CanProceed = false
		}
		h.Remaining.TPD = remaining(*limits.TPD, stats.Day.Tokens)
	}

	return h
}

// RecordUsage appends one usage row. It never fails: storage errors are
// logged and counted, and the request proceeds regardless. The write is
// detached from request cancellation so the row for a client-aborted call
// still lands.
func (m *Manager) RecordUsage(ctx context.Context, u Usage) {
	rec := &store.Record{
		ID:             uuid.NewString(),
		Timestamp:      m.now().UTC(),
		Provider:       u.Provider,
		Model:          u.Model,
		RequestTokens:  u.RequestTokens,
		ResponseTokens: u.ResponseTokens,
		TotalTokens:    u.RequestTokens + u.ResponseTokens,
		Success:        u.Success,
		ErrorCode:      u.ErrorCode,
	}

	if err := m.store.Insert(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("usage record failed",
			"provider", u.Provider, "model", u.Model, "success", u.Success, "error", err)
		metrics.RecordUsageStoreError("insert")
	}
}

func (m *Manager) limitsFor(provider, model string) Limits {
	table := *m.table.Load()

	providerTable, ok := table[provider]
	if !ok || len(providerTable) == 0 {
		providerTable = table["default"]
	}
	if len(providerTable) == 0 {
		return Limits{}
	}

	if limits, ok := providerTable[model]; ok {
		return limits
	}
	return providerTable["default"]
}

func remaining(cap, used int64) *int64 {
	left := cap - used
	if left < 0 {
		left = 0
	}
	return &left
}
