package store

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/set"
)

// BlockUser adds key to the blocked set. Idempotent; the local cache is
// updated write-through so the hub sees the block immediately.
func (s *Store) BlockUser(ctx context.Context, key string) error {
	defer observe("block_user", time.Now())

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO blocked_keys (pub_key) VALUES ($1)
		ON CONFLICT (pub_key) DO NOTHING`, key); err != nil {
		return fmt.Errorf("failed to block key: %w", err)
	}

	s.blockedMu.Lock()
	if s.blocked == nil {
		s.blocked = set.New[string]()
	}
	s.blocked.Insert(key)
	s.blockedMu.Unlock()
	return nil
}

// IsBlocked reports whether key is blocked. Served from the in-process cache;
// the first call loads it.
func (s *Store) IsBlocked(ctx context.Context, key string) (bool, error) {
	s.blockedMu.RLock()
	if s.blockedLoaded {
		blocked := s.blocked.Has(key)
		s.blockedMu.RUnlock()
		return blocked, nil
	}
	s.blockedMu.RUnlock()

	if err := s.RefreshBlocked(ctx); err != nil {
		return false, err
	}

	s.blockedMu.RLock()
	defer s.blockedMu.RUnlock()
	return s.blocked.Has(key), nil
}

// RefreshBlocked reloads the cache from Postgres. The bus subscription calls
// this when another instance mutates the blocked set.
func (s *Store) RefreshBlocked(ctx context.Context) error {
	defer observe("refresh_blocked", time.Now())

	rows, err := s.pool.Query(ctx, `SELECT pub_key FROM blocked_keys`)
	if err != nil {
		return fmt.Errorf("failed to load blocked keys: %w", err)
	}
	defer rows.Close()

	fresh := set.New[string]()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("failed to scan blocked key: %w", err)
		}
		fresh.Insert(key)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read blocked keys: %w", err)
	}

	s.blockedMu.Lock()
	s.blocked = fresh
	s.blockedLoaded = true
	s.blockedMu.Unlock()
	return nil
}
