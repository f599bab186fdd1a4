// Package store persists rooms, messages, attachments and the blocked-key
// list in Postgres behind a pgx connection pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/utils/set"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
)

// ErrNotFound reports a missing row where the caller asked for one
// specifically (attachment by id, room by name).
var ErrNotFound = errors.New("store: not found")

// Store owns the connection pool and the in-process blocked-key cache.
type Store struct {
	pool *pgxpool.Pool

	blockedMu     sync.RWMutex
	blocked       set.Set[string]
	blockedLoaded bool
}

// Connect opens the pool, verifies connectivity and applies pending
// migrations before returning.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

type migration struct {
	version int
	stmt    string
}

// Migrations are append-only; never edit a shipped entry.
var migrations = []migration{
	{1, `CREATE TABLE rooms (
		id   serial PRIMARY KEY,
		name text UNIQUE NOT NULL
	)`},
	{2, `CREATE TABLE messages (
		id         text PRIMARY KEY,
		room_id    int NOT NULL REFERENCES rooms(id),
		timestamp  int8 NOT NULL,
		sender     text NOT NULL,
		content    text,
		public_key text,
		signature  text,
		state      text
	)`},
	{3, `CREATE INDEX idx_messages_room_id ON messages (room_id)`},
	{4, `CREATE INDEX idx_messages_timestamp ON messages (timestamp)`},
	{5, `CREATE TABLE attachments (
		id         serial PRIMARY KEY,
		message_id text NOT NULL REFERENCES messages(id),
		name       text NOT NULL,
		type       text NOT NULL,
		size       int NOT NULL,
		data       bytea
	)`},
	{6, `CREATE INDEX idx_attachments_message_id ON attachments (message_id)`},
	{7, `CREATE TABLE blocked_keys (
		pub_key text PRIMARY KEY
	)`},
}

// migrate applies every pending migration inside a single transaction, so a
// failed upgrade leaves the previous schema fully intact.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    int PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if _, err := tx.Exec(ctx, m.stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil and rolling back on
// error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.StoreQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
