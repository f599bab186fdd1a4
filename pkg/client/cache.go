package client

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// The cache mirrors the browser client's storage model: one JSON blob per
// room, always rewritten whole, plus a rooms.json bookmark list. Blobs live
// under <config>/quanta-chat/rooms/. A cache that cannot be read is treated
// as empty, never as an error; the server (or the peer swarm) remains the
// source of truth.

// RoomHistoryItem is a visited-room bookmark.
type RoomHistoryItem struct {
	Name        string `json:"name"`
	LastVisited int64  `json:"lastVisited"`
}

type roomCache struct {
	Messages []wire.ChatMessage `json:"messages"`
}

type cacheStore struct {
	dir string
}

func newCacheStore(override string) (*cacheStore, error) {
	base := override
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(dir, "quanta-chat")
	}
	return &cacheStore{dir: base}, nil
}

// roomPath escapes the room name so arbitrary names map to safe filenames.
func (s *cacheStore) roomPath(room string) string {
	return filepath.Join(s.dir, "rooms", url.PathEscape(room)+".json")
}

func (s *cacheStore) loadRoom(room string) []wire.ChatMessage {
	data, err := os.ReadFile(s.roomPath(room))
	if err != nil {
		return nil
	}
	var rc roomCache
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil
	}
	return rc.Messages
}

func (s *cacheStore) encodeRoom(msgs []wire.ChatMessage) ([]byte, error) {
	if msgs == nil {
		msgs = []wire.ChatMessage{}
	}
	return json.Marshal(roomCache{Messages: msgs})
}

func (s *cacheStore) writeRoom(room string, blob []byte) error {
	path := s.roomPath(room)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func (s *cacheStore) historyPath() string {
	return filepath.Join(s.dir, "rooms.json")
}

func (s *cacheStore) loadHistory() []RoomHistoryItem {
	data, err := os.ReadFile(s.historyPath())
	if err != nil {
		return nil
	}
	var items []RoomHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	return items
}

// touchRoom records a room visit, most recent first.
func (s *cacheStore) touchRoom(room string, visitedAt int64) error {
	items := s.loadHistory()
	found := false
	for i := range items {
		if items[i].Name == room {
			items[i].LastVisited = visitedAt
			found = true
			break
		}
	}
	if !found {
		items = append(items, RoomHistoryItem{Name: room, LastVisited: visitedAt})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].LastVisited != items[j].LastVisited {
			return items[i].LastVisited > items[j].LastVisited
		}
		return items[i].Name < items[j].Name
	})

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.historyPath(), data, 0o600)
}

// History returns the visited-room bookmarks, most recently visited first.
func (c *Client) History() []RoomHistoryItem {
	return c.cache.loadHistory()
}
