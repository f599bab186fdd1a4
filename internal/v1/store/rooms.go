package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// RoomInfo is the admin-facing per-room summary.
type RoomInfo struct {
	Name         string `json:"name"`
	MessageCount int    `json:"messageCount"`
}

// GetOrCreateRoom returns the room's id, creating the row when the name is
// new. Concurrent creators converge on one row via the unique constraint.
func (s *Store) GetOrCreateRoom(ctx context.Context, name string) (int, error) {
	defer observe("get_or_create_room", time.Now())

	var id int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = getOrCreateRoomTx(ctx, tx, name)
		return err
	})
	return id, err
}

func getOrCreateRoomTx(ctx context.Context, tx pgx.Tx, name string) (int, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("failed to ensure room %q: %w", name, err)
	}
	var id int
	if err := tx.QueryRow(ctx, `SELECT id FROM rooms WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up room %q: %w", name, err)
	}
	return id, nil
}

// resolveRoom accepts a numeric room id or a room name and returns the id.
func (s *Store) resolveRoom(ctx context.Context, roomKey string) (int, error) {
	if id, err := strconv.Atoi(roomKey); err == nil {
		return id, nil
	}
	var id int
	err := s.pool.QueryRow(ctx, `SELECT id FROM rooms WHERE name = $1`, roomKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve room %q: %w", roomKey, err)
	}
	return id, nil
}

// ListRooms returns every room name, sorted.
func (s *Store) ListRooms(ctx context.Context) ([]string, error) {
	defer observe("list_rooms", time.Now())

	rows, err := s.pool.Query(ctx, `SELECT name FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan room name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rooms: %w", err)
	}
	return names, nil
}

// GetRoomInfo returns every room with its message count, sorted by name.
func (s *Store) GetRoomInfo(ctx context.Context) ([]RoomInfo, error) {
	defer observe("get_room_info", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT r.name, COUNT(m.id)
		FROM rooms r
		LEFT JOIN messages m ON m.room_id = r.id
		GROUP BY r.name
		ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query room info: %w", err)
	}
	defer rows.Close()

	infos := []RoomInfo{}
	for rows.Next() {
		var name string
		var count int64 // COUNT(*) is bigint
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan room info: %w", err)
		}
		infos = append(infos, RoomInfo{Name: name, MessageCount: int(count)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read room info: %w", err)
	}
	return infos, nil
}

// DeleteRoom removes the room's attachments, messages and finally the room
// row in one transaction. Returns false when the room does not exist.
func (s *Store) DeleteRoom(ctx context.Context, name string) (bool, error) {
	defer observe("delete_room", time.Now())
	return s.clearRoom(ctx, name, true)
}

// WipeRoom removes the room's attachments and messages but keeps the room
// row. Returns false when the room does not exist.
func (s *Store) WipeRoom(ctx context.Context, name string) (bool, error) {
	defer observe("wipe_room", time.Now())
	return s.clearRoom(ctx, name, false)
}

// Deletion order is attachments, messages, room; correctness must not lean
// on ON DELETE CASCADE.
func (s *Store) clearRoom(ctx context.Context, name string, dropRoom bool) (bool, error) {
	var existed bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var roomID int
		err := tx.QueryRow(ctx, `SELECT id FROM rooms WHERE name = $1`, name).Scan(&roomID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up room %q: %w", name, err)
		}
		existed = true

		if _, err := tx.Exec(ctx, `
			DELETE FROM attachments
			WHERE message_id IN (SELECT id FROM messages WHERE room_id = $1)`, roomID); err != nil {
			return fmt.Errorf("failed to delete attachments for room %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID); err != nil {
			return fmt.Errorf("failed to delete messages for room %q: %w", name, err)
		}
		if dropRoom {
			if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
				return fmt.Errorf("failed to delete room %q: %w", name, err)
			}
		}
		return nil
	})
	return existed, err
}
