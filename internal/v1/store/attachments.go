package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AttachmentInfo is the admin-facing attachment listing row; it never
// carries the bytes.
type AttachmentInfo struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	RoomName  string `json:"roomName"`
	Sender    string `json:"sender"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
}

// GetAttachment returns one attachment's name, mime type and bytes.
func (s *Store) GetAttachment(ctx context.Context, id int) (string, string, []byte, error) {
	defer observe("get_attachment", time.Now())

	var name, mime string
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT name, type, data FROM attachments WHERE id = $1`, id).
		Scan(&name, &mime, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil, ErrNotFound
	}
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to load attachment %d: %w", id, err)
	}
	return name, mime, data, nil
}

// DeleteAttachment removes one attachment row. Returns false when it did not
// exist.
func (s *Store) DeleteAttachment(ctx context.Context, id int) (bool, error) {
	defer observe("delete_attachment", time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete attachment %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetRecentAttachments lists attachments newest-first by their parent
// message's timestamp, joined with room and sender details.
func (s *Store) GetRecentAttachments(ctx context.Context, limit int) ([]AttachmentInfo, error) {
	defer observe("get_recent_attachments", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.name, a.type, a.size,
		       r.name, m.sender, COALESCE(m.public_key, ''), m.timestamp
		FROM attachments a
		JOIN messages m ON a.message_id = m.id
		JOIN rooms r ON m.room_id = r.id
		ORDER BY m.timestamp DESC, a.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent attachments: %w", err)
	}
	defer rows.Close()

	infos := []AttachmentInfo{}
	for rows.Next() {
		var info AttachmentInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Type, &info.Size,
			&info.RoomName, &info.Sender, &info.PublicKey, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan attachment info: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent attachments: %w", err)
	}
	return infos, nil
}
