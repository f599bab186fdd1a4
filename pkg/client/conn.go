package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// Connect dials the server's websocket endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	target, err := wsURL(c.opts.ServerURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", target, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.pending = make(map[string]pendingAck)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Close tears the connection down and waits for the read loop to exit.
// Pending ack timers are cancelled; a closed client fires no callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.room = ""
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}

// JoinRoom sends a signed join, records the room bookmark, and reconciles
// the local cache (history sync in server mode, retention sweep otherwise).
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	if room == "" {
		return fmt.Errorf("client: room name is required")
	}

	join := wire.JoinFrame{
		Type: wire.FrameJoin,
		Room: room,
		User: wire.Participant{Name: c.opts.DisplayName, PublicKey: c.PublicKey()},
	}
	canonical, err := wire.CanonicalJoin(join)
	if err != nil {
		return err
	}
	sig, err := c.opts.KeyPair.Sign(canonical)
	if err != nil {
		return err
	}
	join.Signature = sig

	if err := c.writeFrame(&join); err != nil {
		return err
	}
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	if err := c.cache.touchRoom(room, time.Now().UnixMilli()); err != nil {
		return err
	}
	return c.SyncRoom(ctx, room)
}

// SendChat builds, signs and sends a chat message over the live connection,
// keeping a local copy. The returned message carries state SENT, or FAILED
// (with the send error) when the write did not go through; either way the
// copy is cached so a later sync can upload it. If no ack arrives within
// AckTimeout, OnAckMissing fires.
func (c *Client) SendChat(content string, attachments []Attachment) (ChatMessage, error) {
	c.mu.Lock()
	room := c.room
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ChatMessage{}, ErrNotConnected
	}
	if room == "" {
		return ChatMessage{}, ErrNotJoined
	}

	msg := wire.ChatMessage{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		Sender:      c.opts.DisplayName,
		Content:     content,
		PublicKey:   c.PublicKey(),
		Attachments: attachments,
	}
	canonical, err := wire.CanonicalChatMessage(msg)
	if err != nil {
		return ChatMessage{}, err
	}
	sig, err := c.opts.KeyPair.Sign(canonical)
	if err != nil {
		return ChatMessage{}, err
	}
	msg.Signature = sig

	sendErr := c.writeFrame(&wire.BroadcastFrame{
		Type:    wire.FrameBroadcast,
		Room:    room,
		Message: msg,
	})

	local := msg
	if sendErr != nil {
		local.State = wire.StateFailed
	} else {
		local.State = wire.StateSent
	}
	if _, err := c.ingestMessage(room, local); err != nil {
		return local, err
	}
	if sendErr != nil {
		return local, fmt.Errorf("client: live send failed: %w", sendErr)
	}

	c.armAckTimer(room, local.ID)
	return local, nil
}

// DeleteMessage removes one of this client's messages server-side; the
// server notifies the room and the local copy is evicted immediately.
func (c *Client) DeleteMessage(ctx context.Context, room, messageID string) (bool, error) {
	ok, err := c.api.DeleteMessage(ctx, messageID, room)
	if err != nil {
		return false, err
	}
	if ok {
		if err := c.evictMessage(room, messageID); err != nil {
			return true, err
		}
	}
	return ok, nil
}

type pendingAck struct {
	room  string
	timer *time.Timer
}

func (c *Client) armAckTimer(room, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	timer := time.AfterFunc(c.opts.AckTimeout, func() {
		c.mu.Lock()
		_, live := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !live {
			return
		}
		if c.messageState(room, id) != wire.StateSaved && c.opts.OnAckMissing != nil {
			c.opts.OnAckMissing(room, id)
		}
	})
	c.pending[id] = pendingAck{room: room, timer: timer}
}

func (c *Client) writeFrame(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame runs on the read loop goroutine; cache write failures here
// are dropped on purpose, the cache is best-effort and the next sync
// reconverges it with the server.
func (c *Client) handleFrame(frame wire.Frame) {
	switch f := frame.(type) {
	case *wire.AckFrame:
		c.handleAck(f.ID)
	case *wire.BroadcastFrame:
		c.handleIncomingBroadcast(f)
	case *wire.DeleteMsgFrame:
		c.evictMessage(f.Room, f.MessageID)
	case *wire.RoomInfoFrame:
		if c.opts.OnRoomInfo != nil {
			c.opts.OnRoomInfo(f.Room, f.Participants)
		}
	case *wire.UserLeftFrame:
		if c.opts.OnUserLeft != nil {
			c.opts.OnUserLeft(f.Room, f.User)
		}
	}
}

// handleAck promotes the acknowledged message to SAVED and disarms its
// timer. Pending entries remember their room, so an ack still lands after
// a room switch; without an entry the current room is the best guess.
func (c *Client) handleAck(id string) {
	c.mu.Lock()
	room := c.room
	if p, ok := c.pending[id]; ok {
		p.timer.Stop()
		delete(c.pending, id)
		room = p.room
	}
	c.mu.Unlock()
	if room == "" {
		return
	}
	c.promoteMessage(room, id)
}

func (c *Client) handleIncomingBroadcast(f *wire.BroadcastFrame) {
	msg := f.Message
	canonical, err := wire.CanonicalChatMessage(msg)
	if err != nil {
		return
	}
	if identity.Verify(msg.PublicKey, msg.Signature, canonical) != nil {
		return
	}

	room := f.Room
	if room == "" {
		c.mu.Lock()
		room = c.room
		c.mu.Unlock()
	}
	if room == "" {
		return
	}

	// Anything the server relays has been persisted.
	msg.State = wire.StateSaved
	added, err := c.ingestMessage(room, msg)
	if err != nil || !added {
		return
	}
	if c.opts.OnBroadcast != nil {
		c.opts.OnBroadcast(room, msg)
	}
}
