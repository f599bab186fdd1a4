package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// PersistMessage writes one message and its attachments in a transaction.
// Message state is normalized to SAVED. A duplicate id is a silent no-op:
// the existing row wins and no attachments are written.
func (s *Store) PersistMessage(ctx context.Context, roomID int, msg wire.ChatMessage) error {
	defer observe("persist_message", time.Now())

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := persistMessageTx(ctx, tx, roomID, msg)
		return err
	})
}

func persistMessageTx(ctx context.Context, tx pgx.Tx, roomID int, msg wire.ChatMessage) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO messages (id, room_id, timestamp, sender, content, public_key, signature, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, roomID, msg.Timestamp, msg.Sender, msg.Content, msg.PublicKey, msg.Signature, wire.StateSaved)
	if err != nil {
		return false, fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, att := range msg.Attachments {
		var data []byte
		if att.Data != "" {
			_, data, err = wire.DecodeDataURL(att.Data)
			if err != nil {
				return false, fmt.Errorf("attachment %q of message %s: %w", att.Name, msg.ID, err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments (message_id, name, type, size, data)
			VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, att.Name, att.Type, att.Size, data); err != nil {
			return false, fmt.Errorf("failed to insert attachment %q of message %s: %w", att.Name, msg.ID, err)
		}
	}
	return true, nil
}

// SaveMessages ensures the room exists and persists each message inside one
// enclosing transaction. Returns how many were actually inserted (duplicates
// do not count).
func (s *Store) SaveMessages(ctx context.Context, roomName string, msgs []wire.ChatMessage) (int, error) {
	defer observe("save_messages", time.Now())

	var saved int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		roomID, err := getOrCreateRoomTx(ctx, tx, roomName)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			inserted, err := persistMessageTx(ctx, tx, roomID, msg)
			if err != nil {
				return err
			}
			if inserted {
				saved++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// GetMessagesForRoom returns messages newest-first with attachments hydrated
// as data URLs. An unknown room yields an empty slice.
func (s *Store) GetMessagesForRoom(ctx context.Context, roomName string, limit, offset int) ([]wire.ChatMessage, error) {
	defer observe("get_messages_for_room", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.timestamp, m.sender,
		       COALESCE(m.content, ''), COALESCE(m.public_key, ''),
		       COALESCE(m.signature, ''), COALESCE(m.state, '')
		FROM messages m
		JOIN rooms r ON m.room_id = r.id
		WHERE r.name = $1
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT $2 OFFSET $3`, roomName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for room %q: %w", roomName, err)
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessageIdsForRoom returns the ids of the room's messages, oldest first,
// optionally bounded below by sinceTs (inclusive). roomKey is a numeric id
// or a room name; an unknown room yields an empty slice.
func (s *Store) GetMessageIdsForRoom(ctx context.Context, roomKey string, sinceTs *int64) ([]string, error) {
	defer observe("get_message_ids", time.Now())

	roomID, err := s.resolveRoom(ctx, roomKey)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	query := `SELECT id FROM messages WHERE room_id = $1`
	args := []any{roomID}
	if sinceTs != nil {
		query += ` AND timestamp >= $2`
		args = append(args, *sinceTs)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query message ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message ids: %w", err)
	}
	return ids, nil
}

// GetMessagesByIds returns the requested messages that belong to the room,
// oldest first, attachments hydrated. Ids from other rooms or that do not
// exist are silently omitted.
func (s *Store) GetMessagesByIds(ctx context.Context, ids []string, roomKey string) ([]wire.ChatMessage, error) {
	defer observe("get_messages_by_ids", time.Now())

	if len(ids) == 0 {
		return []wire.ChatMessage{}, nil
	}

	roomID, err := s.resolveRoom(ctx, roomKey)
	if errors.Is(err, ErrNotFound) {
		return []wire.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.timestamp, m.sender,
		       COALESCE(m.content, ''), COALESCE(m.public_key, ''),
		       COALESCE(m.signature, ''), COALESCE(m.state, '')
		FROM messages m
		WHERE m.room_id = $1 AND m.id = ANY($2)
		ORDER BY m.timestamp, m.id`, roomID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by ids: %w", err)
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessage removes the message and its attachments when requesterKey is
// the stored owner key or the admin key. Returns false when no row matched
// or the requester is not allowed; both compares are constant-time.
func (s *Store) DeleteMessage(ctx context.Context, id, requesterKey, adminKey string) (bool, error) {
	defer observe("delete_message", time.Now())

	var deleted bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var ownerKey string
		err := tx.QueryRow(ctx, `SELECT COALESCE(public_key, '') FROM messages WHERE id = $1`, id).Scan(&ownerKey)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up message %s: %w", id, err)
		}

		isOwner := ownerKey != "" && subtle.ConstantTimeCompare([]byte(requesterKey), []byte(ownerKey)) == 1
		isAdmin := adminKey != "" && subtle.ConstantTimeCompare([]byte(requesterKey), []byte(adminKey)) == 1
		if !isOwner && !isAdmin {
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete attachments of message %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete message %s: %w", id, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// DeleteUserContent removes every message signed by key, and those messages'
// attachments, across all rooms. Returns the number of messages removed.
func (s *Store) DeleteUserContent(ctx context.Context, key string) (int, error) {
	defer observe("delete_user_content", time.Now())

	var removed int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM attachments
			WHERE message_id IN (SELECT id FROM messages WHERE public_key = $1)`, key); err != nil {
			return fmt.Errorf("failed to delete attachments for key: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE public_key = $1`, key)
		if err != nil {
			return fmt.Errorf("failed to delete messages for key: %w", err)
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func scanMessages(rows pgx.Rows) ([]wire.ChatMessage, error) {
	defer rows.Close()

	msgs := []wire.ChatMessage{}
	for rows.Next() {
		var m wire.ChatMessage
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Sender, &m.Content, &m.PublicKey, &m.Signature, &m.State); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// hydrateAttachments loads attachment rows for the given messages and
// attaches them with data re-encoded as data URLs.
func (s *Store) hydrateAttachments(ctx context.Context, msgs []wire.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, len(msgs))
	byID := make(map[string]*wire.ChatMessage, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		byID[msgs[i].ID] = &msgs[i]
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, name, type, size, data
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, name, mime string
		var size int64
		var data []byte
		if err := rows.Scan(&msgID, &name, &mime, &size, &data); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Attachments = append(m.Attachments, wire.Attachment{
				Name: name,
				Type: mime,
				Size: size,
				Data: wire.EncodeDataURL(mime, data),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read attachments: %w", err)
	}
	return nil
}
