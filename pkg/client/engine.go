package client

import (
	"context"
	"sort"
	"time"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// SyncRoom reconciles the room's local cache with server truth:
//
//  1. load the cached messages and evict everything outside the retention
//     window;
//  2. in server mode, fetch the server's id set for the window and diff:
//     ids on both sides are promoted to SAVED, local SAVED ids gone
//     upstream are deleted (they were removed on the server), server-only
//     ids are fetched in full;
//  3. sort ascending by (timestamp, id) and rewrite the blob whole;
//  4. upload this client's own messages that never reached SAVED.
//
// The cache lock is held across the fetches on purpose: the blob is
// rewritten whole, so an ack or broadcast ingested mid-sync would be lost
// to the write-back.
func (c *Client) SyncRoom(ctx context.Context, room string) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	msgs := c.cache.loadRoom(room)
	cutoff := time.Now().AddDate(0, 0, -c.opts.RetentionDays).UnixMilli()
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Timestamp >= cutoff {
			kept = append(kept, m)
		}
	}
	msgs = kept

	if !c.opts.ServerMode {
		sortMessages(msgs)
		_, err := c.persistRoomLocked(room, msgs)
		return err
	}

	serverIDs, err := c.api.MessageIDs(ctx, room, c.opts.RetentionDays)
	if err != nil {
		return err
	}
	onServer := make(map[string]bool, len(serverIDs))
	for _, id := range serverIDs {
		onServer[id] = true
	}

	local := make(map[string]bool, len(msgs))
	kept = msgs[:0]
	for _, m := range msgs {
		local[m.ID] = true
		switch {
		case onServer[m.ID]:
			m.State = wire.StateSaved
			kept = append(kept, m)
		case m.State == wire.StateSaved:
			// Was on the server once, is not anymore: removed upstream.
		default:
			kept = append(kept, m)
		}
	}
	msgs = kept

	var missing []string
	for _, id := range serverIDs {
		if !local[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := c.api.MessagesByID(ctx, room, missing)
		if err != nil {
			return err
		}
		for _, m := range fetched {
			m.State = wire.StateSaved
			msgs = append(msgs, m)
		}
	}

	sortMessages(msgs)
	msgs, err = c.persistRoomLocked(room, msgs)
	if err != nil {
		return err
	}
	return c.resendPendingLocked(ctx, room, msgs)
}

// resendPendingLocked uploads this client's own cached messages that are
// not SAVED. On full acceptance they are promoted locally; on partial
// acceptance states are left alone so the next sync retries.
func (c *Client) resendPendingLocked(ctx context.Context, room string, msgs []wire.ChatMessage) error {
	mine := c.PublicKey()
	var pending []wire.ChatMessage
	for _, m := range msgs {
		if m.PublicKey == mine && m.State != wire.StateSaved {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	allOk, err := c.api.SendMessages(ctx, room, pending)
	if err != nil {
		return err
	}
	if !allOk {
		return nil
	}

	uploaded := make(map[string]bool, len(pending))
	for _, m := range pending {
		uploaded[m.ID] = true
	}
	for i := range msgs {
		if uploaded[msgs[i].ID] {
			msgs[i].State = wire.StateSaved
		}
	}
	_, err = c.persistRoomLocked(room, msgs)
	return err
}

// persistRoomLocked writes the room blob, pruning when it would exceed 90%
// of the quota. Pruning drops the oldest fifth of the room's messages and
// needs the ConfirmPrune hook's blessing; without it the write is refused.
// Returns the message list as actually written.
func (c *Client) persistRoomLocked(room string, msgs []wire.ChatMessage) ([]wire.ChatMessage, error) {
	threshold := (c.opts.MaxCacheBytes * 9) / 10
	for {
		blob, err := c.cache.encodeRoom(msgs)
		if err != nil {
			return nil, err
		}
		if int64(len(blob)) <= threshold {
			return msgs, c.cache.writeRoom(room, blob)
		}
		if len(msgs) == 0 {
			return nil, ErrCacheFull
		}
		drop := len(msgs) / 5
		if drop == 0 {
			drop = 1
		}
		if c.opts.ConfirmPrune == nil || !c.opts.ConfirmPrune(room, drop) {
			return nil, ErrCacheFull
		}
		sortMessages(msgs)
		msgs = msgs[drop:]
	}
}

// ingestMessage adds one message to the room cache unless its id is already
// present; the first-seen copy wins. Reports whether it was added.
func (c *Client) ingestMessage(room string, msg wire.ChatMessage) (bool, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	msgs := c.cache.loadRoom(room)
	for _, m := range msgs {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	msgs = append(msgs, msg)
	sortMessages(msgs)
	_, err := c.persistRoomLocked(room, msgs)
	return err == nil, err
}

func (c *Client) promoteMessage(room, id string) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	msgs := c.cache.loadRoom(room)
	changed := false
	for i := range msgs {
		if msgs[i].ID == id && msgs[i].State != wire.StateSaved {
			msgs[i].State = wire.StateSaved
			changed = true
		}
	}
	if !changed {
		return nil
	}
	_, err := c.persistRoomLocked(room, msgs)
	return err
}

func (c *Client) evictMessage(room, id string) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	msgs := c.cache.loadRoom(room)
	kept := msgs[:0]
	removed := false
	for _, m := range msgs {
		if m.ID == id {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	if !removed {
		return nil
	}
	_, err := c.persistRoomLocked(room, kept)
	return err
}

func (c *Client) messageState(room, id string) string {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, m := range c.cache.loadRoom(room) {
		if m.ID == id {
			return m.State
		}
	}
	return ""
}

// Messages returns the cached messages for a room, oldest first.
func (c *Client) Messages(room string) []ChatMessage {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	msgs := c.cache.loadRoom(room)
	sortMessages(msgs)
	return msgs
}

func sortMessages(msgs []wire.ChatMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
