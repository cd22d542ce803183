// Package store persists per-attempt usage records and serves the sliding
// window aggregations quota accounting is built on.
package store

import (
	"context"
	"time"
)

// Record is one usage row. Exactly one record exists per upstream attempt,
// successful or failed. Records are immutable once written.
type Record struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"ts"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	RequestTokens  int64     `json:"request_tokens"`
	ResponseTokens int64     `json:"response_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	Success        bool      `json:"success"`
	ErrorCode      *int      `json:"error_code,omitempty"`
}

// Window aggregates the records of one provider/model pair since some
// instant: how many attempts, and how many tokens they consumed.
type Window struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// Store is the persistence contract for usage records. Implementations must
// be safe for concurrent use.
type Store interface {
	// Insert appends one record. TotalTokens is computed by the caller as
	// RequestTokens + ResponseTokens before the record reaches the store.
	Insert(ctx context.Context, rec *Record) error

	// Aggregate counts records and sums total tokens for the provider/model
	// pair with Timestamp >= since. A record at exactly since is included.
	Aggregate(ctx context.Context, provider, model string, since time.Time) (Window, error)

	// Close releases the underlying resources.
	Close() error
}
