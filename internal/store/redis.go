package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "quotapilot:usage"
	// Covers the 24h day window with slack for clock skew.
	defaultRedisRetention = 25 * time.Hour
)

// RedisStore implements Store on a Redis sorted set per provider/model pair.
// Scores are unix milliseconds, so range queries line up with the sliding
// windows; members embed the record fields needed for aggregation. Entries
// older than the retention period are trimmed on write.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
}

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default: "quotapilot:usage").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = strings.TrimSuffix(prefix, ":")
	}
}

// WithRetention sets how long records are kept (default: 25h).
func WithRetention(retention time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = retention
	}
}

// NewRedisStore creates a Redis-backed usage store. The store owns the
// client and closes it on Close.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: defaultRedisKeyPrefix,
		retention: defaultRedisRetention,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Insert appends one usage record and trims expired entries.
func (s *RedisStore) Insert(ctx context.Context, rec *Record) error {
	key := s.usageKey(rec.Provider, rec.Model)
	ts := rec.Timestamp.UTC()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: encodeMember(rec),
	})
	cutoff := ts.Add(-s.retention).UnixMilli()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	return err
}

// Aggregate counts records and sums total tokens since the given instant.
func (s *RedisStore) Aggregate(ctx context.Context, provider, model string, since time.Time) (Window, error) {
	key := s.usageKey(provider, model)
	min := strconv.FormatInt(since.UTC().UnixMilli(), 10)

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return Window{}, fmt.Errorf("range usage: %w", err)
	}

	var w Window
	for _, member := range members {
		w.Requests++
		w.Tokens += decodeMemberTokens(member)
	}
	return w, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) usageKey(provider, model string) string {
	return fmt.Sprintf("%s:{%s:%s}", s.keyPrefix, provider, model)
}

// encodeMember packs the record fields into a flat member string:
// id|request_tokens|response_tokens|total_tokens|success|error_code.
func encodeMember(rec *Record) string {
	success := "0"
	if rec.Success {
		success = "1"
	}
	errorCode := ""
	if rec.ErrorCode != nil {
		errorCode = strconv.Itoa(*rec.ErrorCode)
	}
	return strings.Join([]string{
		rec.ID,
		strconv.FormatInt(rec.RequestTokens, 10),
		strconv.FormatInt(rec.ResponseTokens, 10),
		strconv.FormatInt(rec.TotalTokens, 10),
		success,
		errorCode,
	}, "|")
}

func decodeMemberTokens(member string) int64 {
	fields := strings.Split(member, "|")
	if len(fields) < 4 {
		return 0
	}
	tokens, _ := strconv.ParseInt(fields[3], 10, 64)
	return tokens
}
