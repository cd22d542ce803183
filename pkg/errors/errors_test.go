package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestLLMError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := NewRateLimitError("mistral", "mistral-small-latest", "rate limit exceeded", nil)
		msg := err.Error()

		if msg == "" {
			t.Error("error message should not be empty")
		}

		for _, s := range []string{"rate_limit_error", "mistral", "mistral-small-latest", "429"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("HTTP status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      *LLMError
			wantCode int
		}{
			{"rate limit", NewRateLimitError("p", "m", "msg", nil), 429},
			{"provider 502", NewProviderError("p", "m", 502, "msg", nil), 502},
			{"provider 401", NewProviderError("p", "m", 401, "msg", nil), 401},
			{"validation", NewValidationError("msg"), 400},
			{"internal", NewInternalError("p", "m", "msg"), 500},
			{"no capable provider", NewNoCapableProviderError("msg"), 503},
			{"absent status defaults to 500", &LLMError{Message: "msg"}, 500},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.HTTPStatusCode(); got != tt.wantCode {
					t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantCode)
				}
			})
		}
	})

	t.Run("exact status preserved", func(t *testing.T) {
		for _, code := range []int{500, 502, 503, 504, 409} {
			err := NewProviderError("p", "m", code, "msg", nil)
			if err.StatusCode != code {
				t.Errorf("StatusCode = %d, want %d", err.StatusCode, code)
			}
		}
	})
}

func TestRetryAfterHint(t *testing.T) {
	t.Run("direct field wins", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Retry-After", "9")
		err := &LLMError{RetryAfter: "3", Headers: headers}
		if got := err.RetryAfterHint(); got != "3" {
			t.Errorf("RetryAfterHint() = %q, want %q", got, "3")
		}
	})

	t.Run("falls back to headers case-insensitively", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("retry-after", "5")
		err := &LLMError{Headers: headers}
		if got := err.RetryAfterHint(); got != "5" {
			t.Errorf("RetryAfterHint() = %q, want %q", got, "5")
		}
	})

	t.Run("empty when nothing set", func(t *testing.T) {
		err := &LLMError{}
		if got := err.RetryAfterHint(); got != "" {
			t.Errorf("RetryAfterHint() = %q, want empty", got)
		}
	})
}

func TestRateLimitErrorCapturesRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "2")
	err := NewRateLimitError("p", "m", "slow down", headers)
	if err.RetryAfter != "2" {
		t.Errorf("RetryAfter = %q, want %q", err.RetryAfter, "2")
	}
}

func TestIsNoCapableProvider(t *testing.T) {
	if !IsNoCapableProvider(NewNoCapableProviderError("none")) {
		t.Error("expected true for no-capable-provider error")
	}
	if !IsNoCapableProvider(fmt.Errorf("wrapped: %w", NewNoCapableProviderError("none"))) {
		t.Error("expected true for wrapped no-capable-provider error")
	}
	if IsNoCapableProvider(NewRateLimitError("p", "m", "msg", nil)) {
		t.Error("expected false for rate limit error")
	}
	if IsNoCapableProvider(fmt.Errorf("plain")) {
		t.Error("expected false for plain error")
	}
}
