// Package httputil bounds reads of upstream HTTP bodies. Providers are not
// trusted to keep responses small, and an unbounded ReadAll on a hostile or
// misbehaving upstream would pin gateway memory.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes caps upstream response bodies to 10MB. Large
// enough for any chat completion or model listing, small enough to bound a
// single request's memory.
const DefaultMaxResponseBodyBytes int64 = 10 << 20

// ErrResponseBodyTooLarge reports a body that exceeded the read limit. The
// truncated prefix is still returned so callers can quote it in errors.
var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads at most maxBytes from reader. A non-positive limit
// reads everything. The read goes one byte past the limit so an oversize
// body is detected rather than silently clipped.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrResponseBodyTooLarge
	}
	return body, nil
}

// Drain consumes and discards up to maxBytes of reader. Health probes call
// it before closing a response body so the connection can be reused.
func Drain(reader io.Reader, maxBytes int64) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBodyBytes
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(reader, maxBytes))
}
