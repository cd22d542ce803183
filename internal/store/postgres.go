package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults for the given DSN.
func DefaultPostgresConfig(dsn string) *PostgresConfig {
	return &PostgresConfig{
		DSN:          dsn,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore opens a connection pool, verifies connectivity, and
// ensures the usage schema exists.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the usage table and its indexes if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_logs (
		id              TEXT PRIMARY KEY,
		ts              TIMESTAMPTZ NOT NULL,
		provider        TEXT NOT NULL,
		model           TEXT NOT NULL,
		request_tokens  BIGINT NOT NULL DEFAULT 0,
		response_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens    BIGINT NOT NULL DEFAULT 0,
		success         BOOLEAN NOT NULL,
		error_code      INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_usage_provider_model_ts ON usage_logs (provider, model, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_logs (ts DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert appends one usage record.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO usage_logs (id, ts, provider, model,
		                        request_tokens, response_tokens, total_tokens,
		                        success, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var errorCode sql.NullInt32
	if rec.ErrorCode != nil {
		errorCode = sql.NullInt32{Int32: int32(*rec.ErrorCode), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp.UTC(), rec.Provider, rec.Model,
		rec.RequestTokens, rec.ResponseTokens, rec.TotalTokens,
		rec.Success, errorCode,
	)
	return err
}

// Aggregate counts requests and sums total tokens in the window.
func (s *PostgresStore) Aggregate(ctx context.Context, provider, model string, since time.Time) (Window, error) {
	query := `
		SELECT
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_logs
		WHERE provider = $1 AND model = $2 AND ts >= $3`

	var w Window
	err := s.db.QueryRowContext(ctx, query, provider, model, since.UTC()).Scan(&w.Requests, &w.Tokens)
	if err != nil {
		return Window{}, fmt.Errorf("aggregate usage: %w", err)
	}
	return w, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
