package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536 // 64KB

	sendBufferSize    = 256 // broadcast fan-out
	controlBufferSize = 16  // acks, room-info, user-left, delete-msg
)

var errIdleTimeout = errors.New("connection idle timeout exceeded")

// wsConnection is the slice of *websocket.Conn the hub uses, kept as an
// interface so tests can drive connections without a network.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// connState tracks where a connection is in its lifecycle.
type connState int

const (
	stateOpening connState = iota // upgraded, join not yet accepted
	stateJoined                   // member of a room
	stateClosing                  // teardown begun, pumps draining
	stateClosed                   // fully torn down
)

// client is one websocket connection. It implements registry.Conn.
type client struct {
	hub  *Hub
	conn wsConnection

	mu     sync.RWMutex
	state  connState
	room   string
	self   wire.Participant
	closed bool

	closeOnce sync.Once

	send    chan []byte // data frames, dropped when full
	control chan []byte // priority frames, drained first by the write pump

	remoteAddr  string
	connectedAt time.Time
	lastFrame   time.Time // only touched from the read pump goroutine
}

func newClient(h *Hub, conn wsConnection, remoteAddr string) *client {
	now := time.Now()
	return &client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		control:     make(chan []byte, controlBufferSize),
		remoteAddr:  remoteAddr,
		connectedAt: now,
		lastFrame:   now,
	}
}

// snapshotIdentity reads the lifecycle state and joined identity atomically.
func (c *client) snapshotIdentity() (state connState, room string, self wire.Participant) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.room, c.self
}

func (c *client) setJoined(room string, self wire.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateJoined
	c.room = room
	c.self = self
}

// PublicKey returns the verified identity, or "" before the join is accepted.
func (c *client) PublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self.PublicKey
}

// Send enqueues a data frame. It reports false when the frame could not be
// queued because the connection is closing or its buffer is full.
func (c *client) Send(v any) bool {
	return c.enqueue(c.send, v, false)
}

// SendControl enqueues a priority frame. The write pump drains the control
// channel before the data channel so acks and membership frames are never
// stuck behind a backlog of chat traffic.
func (c *client) SendControl(v any) bool {
	return c.enqueue(c.control, v, true)
}

func (c *client) enqueue(ch chan []byte, v any, critical bool) (queued bool) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return false
	}

	// Close can still win the race after the flag check above; sending on a
	// closed channel panics, so recover and report the frame as dropped.
	defer func() {
		if r := recover(); r != nil {
			queued = false
		}
	}()

	select {
	case ch <- data:
		return true
	default:
		metrics.SendBufferDrops.Inc()
		if critical {
			logging.Error(context.Background(), "control buffer full - dropping priority frame",
				zap.String("publicKey", logging.AbbrevKey(c.PublicKey())))
		} else {
			logging.Warn(context.Background(), "send buffer full - dropping frame",
				zap.String("publicKey", logging.AbbrevKey(c.PublicKey())))
		}
		return false
	}
}

// Close begins teardown. Safe to call from any goroutine and more than once.
// Closing the channels makes the write pump drain its buffers, send the close
// frame, and close the connection; the read pump then finishes the cleanup.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.state != stateClosed {
			c.state = stateClosing
		}
		c.mu.Unlock()
		close(c.control)
		close(c.send)
	})
}

// readPump reads frames off the wire and feeds them to the hub dispatcher.
// It owns the connection's terminal cleanup.
func (c *client) readPump() {
	defer c.hub.connWg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "recovered from panic in read pump",
				zap.String("publicKey", logging.AbbrevKey(c.PublicKey())), zap.Any("panic", r))
		}
	}()
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		// The pong handler runs inside ReadMessage on this goroutine, so
		// lastFrame needs no locking. A pong proves liveness, not activity:
		// an idle-but-responsive connection is still reaped.
		if c.hub.idleTimeout > 0 && time.Since(c.lastFrame) > c.hub.idleTimeout {
			return errIdleTimeout
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.GetLogger().Debug("read pump closing", zap.Error(err))
			}
			break
		}
		c.lastFrame = time.Now()
		c.hub.dispatch(c, data)
	}
}

// teardown runs exactly once, from the read pump, when the connection is done.
func (c *client) teardown() {
	c.Close()

	c.mu.Lock()
	room, self := c.room, c.self
	c.state = stateClosed
	c.mu.Unlock()

	if room != "" {
		// Leave no-ops when a re-join already took over the routing slot.
		if removed, emptied, ok := c.hub.registry.Leave(room, self.PublicKey, c); ok {
			c.hub.memberLeft(room, removed, emptied)
		}
	}

	_ = c.conn.Close()
	metrics.DecConnection()
	metrics.ConnectionDuration.Observe(time.Since(c.connectedAt).Seconds())
	logging.GetLogger().Debug("connection closed",
		zap.String("room", room),
		zap.String("publicKey", logging.AbbrevKey(self.PublicKey)),
		zap.String("remoteAddr", c.remoteAddr),
		zap.Duration("connectedFor", time.Since(c.connectedAt)))
}

// writePump serializes all writes to the connection: queued frames, keepalive
// pings, and the final close frame.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "recovered from panic in write pump",
				zap.String("publicKey", logging.AbbrevKey(c.PublicKey())), zap.Any("panic", r))
		}
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.connWg.Done()
	}()

	for {
		// Control frames jump the queue ahead of buffered chat traffic.
		select {
		case message, ok := <-c.control:
			if !c.writeFrame(message, ok) {
				return
			}
			continue
		default:
		}

		select {
		case message, ok := <-c.control:
			if !c.writeFrame(message, ok) {
				return
			}
		case message, ok := <-c.send:
			if !c.writeFrame(message, ok) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame writes one frame, or the close frame when the channel has been
// closed. It reports whether the pump should keep running.
func (c *client) writeFrame(message []byte, ok bool) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		logging.GetLogger().Debug("error writing frame", zap.Error(err))
		return false
	}
	return true
}
