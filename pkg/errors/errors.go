// Package errors defines unified error types for gateway operations.
// All provider-specific errors are mapped to these standard error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// LLMError represents a standardized error from an LLM provider.
// It carries everything error handling, retry classification, and the client
// response need. StatusCode is the exact upstream status, never bucketed.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`

	// RetryAfter is the upstream Retry-After value, verbatim. Empty when the
	// provider sent none.
	RetryAfter string `json:"-"`

	// Headers holds the upstream response headers for callers that inspect
	// more than RetryAfter.
	Headers http.Header `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// RetryAfterHint returns the Retry-After value, falling back to the captured
// headers when the field itself is empty.
func (e *LLMError) RetryAfterHint() string {
	if e.RetryAfter != "" {
		return e.RetryAfter
	}
	if e.Headers != nil {
		return e.Headers.Get("Retry-After")
	}
	return ""
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
	TypeNoCapableProvider  = "no_capable_provider"
)

// NewRateLimitError creates a rate limit error (429) preserving the upstream
// headers so retry handling can honor Retry-After.
func NewRateLimitError(provider, model, message string, headers http.Header) *LLMError {
	e := &LLMError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Headers:    headers,
	}
	if headers != nil {
		e.RetryAfter = headers.Get("Retry-After")
	}
	return e
}

// NewProviderError creates an error for a non-2xx upstream response. The
// exact status code is kept; only the type label is derived from it.
func NewProviderError(provider, model string, statusCode int, message string, headers http.Header) *LLMError {
	return &LLMError{
		StatusCode: statusCode,
		Message:    message,
		Type:       typeForStatus(statusCode),
		Provider:   provider,
		Model:      model,
		Headers:    headers,
	}
}

// NewValidationError creates an invalid request error (400) raised by the
// gateway itself.
func NewValidationError(message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
	}
}

// NewNoCapableProviderError signals that no registered provider can satisfy
// the request, or that every candidate was exhausted. Maps to 503.
func NewNoCapableProviderError(message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeNoCapableProvider,
	}
}

// IsNoCapableProvider reports whether err is a no-capable-provider error.
func IsNoCapableProvider(err error) bool {
	var llmErr *LLMError
	return errors.As(err, &llmErr) && llmErr.Type == TypeNoCapableProvider
}

func typeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return TypeAuthentication
	case http.StatusTooManyRequests:
		return TypeRateLimit
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return TypeInvalidRequest
	case http.StatusNotFound:
		return TypeNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return TypeServiceUnavailable
	default:
		return TypeInternalError
	}
}
