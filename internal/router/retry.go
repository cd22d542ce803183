package router

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/quotapilot/quotapilot/pkg/errors"
)

// Action tells the failover loop what to do after a failed attempt.
type Action int

const (
	// SwitchProvider moves on to the next candidate. This is the default for
	// transport failures and unrecognized status codes.
	SwitchProvider Action = iota

	// RetrySame retries the same provider and model after a backoff.
	RetrySame

	// NoRetry aborts routing and surfaces the error to the client.
	NoRetry
)

// String returns the action name used in logs.
func (a Action) String() string {
	switch a {
	case RetrySame:
		return "retry_same"
	case NoRetry:
		return "no_retry"
	default:
		return "switch_provider"
	}
}

// Verdict is the classification of one failed attempt.
type Verdict struct {
	Action     Action
	StatusCode int    // 0 when the error carried no HTTP status
	RetryAfter string // verbatim Retry-After hint, "" when absent
}

// Classify maps an upstream error to a failover action. Rate limits retry
// the same provider, upstream outages switch providers, client errors abort,
// and anything without a recognizable status switches providers.
func Classify(err error) Verdict {
	var llmErr *llmerrors.LLMError
	if !errors.As(err, &llmErr) {
		return Verdict{Action: SwitchProvider}
	}

	v := Verdict{
		Action:     SwitchProvider,
		StatusCode: llmErr.StatusCode,
		RetryAfter: llmErr.RetryAfterHint(),
	}

	switch llmErr.StatusCode {
	case http.StatusTooManyRequests:
		v.Action = RetrySame
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		v.Action = SwitchProvider
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		v.Action = NoRetry
	}

	return v
}

// Backoff returns the delay before retrying attempt n (1-based). An integer
// Retry-After hint wins; otherwise the delay is 1s for the first attempt and
// 2s from the second on. HTTP-date Retry-After values are not interpreted.
func Backoff(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			if secs < 0 {
				secs = 0
			}
			return time.Duration(secs) * time.Second
		}
	}

	if attempt < 1 {
		attempt = 1
	}
	secs := int64(1) << uint(attempt-1)
	if secs > 2 {
		secs = 2
	}
	return time.Duration(secs) * time.Second
}
