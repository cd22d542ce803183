package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 3, Logger: testLogger()})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest("10.0.0.1:1234"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 0.001, Burst: 1, Logger: testLogger()})
	handler := rl.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("10.0.0.1:5678"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code, "same host, different port shares one bucket")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "rate_limit_error", envelope.Error.Type)
	assert.Equal(t, http.StatusTooManyRequests, envelope.Error.Code)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 0.001, Burst: 1, Logger: testLogger()})
	handler := rl.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest("10.0.0.2:1234"))
	require.Equal(t, http.StatusOK, rec.Code, "second client has its own bucket")
}

func TestRateLimiter_CleanupDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 1, CleanupTTL: time.Minute, Logger: testLogger()})

	require.True(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.2"))

	rl.mu.Lock()
	rl.lastAccess["10.0.0.1"] = time.Now().Add(-2 * time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.NotContains(t, rl.limiters, "10.0.0.1")
	assert.Contains(t, rl.limiters, "10.0.0.2")
}

func TestClientKey(t *testing.T) {
	req := limitedRequest("192.0.2.7:9999")
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req = limitedRequest("not-a-hostport")
	assert.Equal(t, "not-a-hostport", clientKey(req))
}
