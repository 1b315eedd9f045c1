package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Attempt kinds.
const (
	KindLogin   = "login"
	KindRefresh = "refresh"
)

// DefaultRecentLimit caps RecentAttempts when the caller passes a non-positive limit.
const DefaultRecentLimit = 50

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Attempt is one ledger row. It never carries a password or a cookie value.
type Attempt struct {
	ID        uuid.UUID
	Kind      string
	Email     string
	Success   bool
	Reason    string
	StartedAt time.Time
	Duration  time.Duration
}

// Store persists session attempts to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS session_attempts (
        id UUID PRIMARY KEY,
        kind TEXT NOT NULL,
        email TEXT NOT NULL DEFAULT '',
        success BOOLEAN NOT NULL,
        reason TEXT NOT NULL DEFAULT '',
        started_at TIMESTAMPTZ NOT NULL,
        duration_ms BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS session_attempts_started_at_idx ON session_attempts (started_at DESC);`,
}

const sqlInsertAttempt = `
        INSERT INTO session_attempts (id, kind, email, success, reason, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `

const sqlRecentAttempts = `
        SELECT id, kind, email, success, reason, started_at, duration_ms
        FROM session_attempts
        ORDER BY started_at DESC
        LIMIT $1;
    `

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the attempts table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.Debug("Attempt ledger schema is in place.")
	return nil
}

// RecordAttempt inserts a. A nil ID is replaced with a fresh one.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx, sqlInsertAttempt,
		a.ID, a.Kind, a.Email, a.Success, a.Reason,
		a.StartedAt.UTC(), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s attempt: %w", a.Kind, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("failed to record %s attempt: %d rows affected", a.Kind, tag.RowsAffected())
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.pool.Query(ctx, sqlRecentAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			id         string
			durationMs int64
		)
		if err := rows.Scan(&id, &a.Kind, &a.Email, &a.Success, &a.Reason, &a.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("attempt row has malformed id %q: %w", id, err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return attempts, nil
}
