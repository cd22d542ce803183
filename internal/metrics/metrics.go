// Package metrics provides Prometheus metrics collection for the gateway.
// It tracks request counts, latencies, token usage, retries, failovers, and
// quota denials.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quotapilot/quotapilot/pkg/types"
)

const namespace = "quotapilot"

var (
	// RequestsTotal counts upstream attempts by provider, model, and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of upstream attempts",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestLatency tracks upstream attempt latency distribution.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Upstream attempt latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	// TokenUsage tracks token consumption by type.
	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Total token usage",
		},
		[]string{"provider", "model", "type"}, // type: input, output
	)

	// RetriesTotal counts same-provider retries.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total same-provider retries",
		},
		[]string{"provider", "model"},
	)

	// FailoversTotal counts switches away from a provider after a failure.
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Total provider failovers",
		},
		[]string{"provider"},
	)

	// HeadroomDenials counts candidates skipped for lack of quota headroom.
	HeadroomDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "headroom_denials_total",
			Help:      "Total candidates skipped by quota checks",
		},
		[]string{"provider", "model"},
	)

	// UsageStoreErrors counts failed usage store operations.
	UsageStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_store_errors_total",
			Help:      "Total usage store failures by operation",
		},
		[]string{"op"},
	)
)

// RecordAttempt records metrics for one completed upstream attempt.
func RecordAttempt(provider, model string, statusCode int, latency time.Duration) {
	status := strconv.Itoa(statusCode)
	model = sanitizeModelLabel(model)
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	RequestLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordTokens records token usage metrics.
func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	model = sanitizeModelLabel(model)
	if inputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordRetry records a same-provider retry.
func RecordRetry(provider, model string) {
	RetriesTotal.WithLabelValues(provider, sanitizeModelLabel(model)).Inc()
}

// RecordFailover records a switch away from a provider.
func RecordFailover(provider string) {
	FailoversTotal.WithLabelValues(provider).Inc()
}

// RecordHeadroomDenial records a candidate skipped by quota checks.
func RecordHeadroomDenial(provider, model string) {
	HeadroomDenials.WithLabelValues(provider, sanitizeModelLabel(model)).Inc()
}

// RecordUsageStoreError records a failed usage store operation.
func RecordUsageStoreError(op string) {
	UsageStoreErrors.WithLabelValues(op).Inc()
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	_, modelName := types.SplitProviderModel(model)
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(minInt(len(modelName), maxModelLabelLen))
	for _, r := range modelName {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
