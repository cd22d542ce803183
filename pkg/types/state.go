package types

// ProviderState is a best-effort health snapshot of an upstream provider.
type ProviderState struct {
	Status    string            `json:"status"` // ok, degraded, unknown
	RateLimit RateLimitSnapshot `json:"ratelimit"`
}

// Provider status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusUnknown  = "unknown"
)

// RateLimitSnapshot carries whatever rate-limit headers the provider exposed
// on its last probe. Nil fields were not reported.
type RateLimitSnapshot struct {
	LimitRequests     *int64 `json:"limit_requests,omitempty"`
	RemainingRequests *int64 `json:"remaining_requests,omitempty"`
	LimitTokens       *int64 `json:"limit_tokens,omitempty"`
	RemainingTokens   *int64 `json:"remaining_tokens,omitempty"`
	ResetRequests     string `json:"reset_requests,omitempty"`
	ResetTokens       string `json:"reset_tokens,omitempty"`
}
