// Package hub coordinates live websocket connections: it upgrades requests,
// routes signaling frames between peers in a room, runs the broadcast
// persistence pipeline, and relays frames between instances over the bus.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/bus"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/config"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/registry"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// Store is the slice of the persistence layer the broadcast pipeline needs.
type Store interface {
	GetOrCreateRoom(ctx context.Context, name string) (int, error)
	PersistMessage(ctx context.Context, roomID int, msg wire.ChatMessage) error
	IsBlocked(ctx context.Context, publicKey string) (bool, error)
}

// Bus relays frames between instances. A nil *bus.Service satisfies it and
// degrades every method to a no-op for single-instance deployments.
type Bus interface {
	Publish(ctx context.Context, room, event string, frame any, senderKey string) error
	Subscribe(ctx context.Context, room string, wg *sync.WaitGroup, handler func(bus.Payload))
}

// Limiter meters websocket upgrades per client IP and inbound frames per
// identity. Both checks fail open when the backing store is unavailable.
type Limiter interface {
	CheckUpgrade(ctx context.Context, clientIP string) bool
	CheckFrame(ctx context.Context, publicKey string) bool
}

// Hub serves as the central coordinator for all chat rooms in the system.
type Hub struct {
	registry *registry.Registry
	store    Store
	bus      Bus
	limiter  Limiter

	allowedOrigins []string
	devMode        bool
	idleTimeout    time.Duration

	upgrader websocket.Upgrader

	mu       sync.Mutex
	draining bool
	subs     map[string]context.CancelFunc // per-room bus subscription cancels

	rootCtx    context.Context
	rootCancel context.CancelFunc
	connWg     sync.WaitGroup // one per pump goroutine
	subWg      sync.WaitGroup // bus subscription goroutines
}

// New creates a Hub and configures it with its dependencies. bus may be a nil
// *bus.Service and limiter may be nil; both disable the concern.
func New(reg *registry.Registry, st Store, b Bus, lim Limiter, cfg *config.Config) *Hub {
	h := &Hub{
		registry:       reg,
		store:          st,
		bus:            b,
		limiter:        lim,
		allowedOrigins: cfg.Origins(),
		devMode:        cfg.DevelopmentMode,
		idleTimeout:    cfg.IdleTimeout,
		subs:           make(map[string]context.CancelFunc),
	}
	h.rootCtx, h.rootCancel = context.WithCancel(context.Background())
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}
	return h
}

// ServeWs rate-limits, validates the origin, and upgrades to a WebSocket
// connection. Identity is established afterwards by the signed join frame,
// so there is no pre-upgrade authentication step.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.isDraining() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}

	// IP check first, before any per-connection resources exist.
	if h.limiter != nil && !h.limiter.CheckUpgrade(c.Request.Context(), c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
		return
	}

	if err := h.originAllowed(c.Request); err != nil {
		logging.Warn(c.Request.Context(), "rejecting websocket upgrade", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	h.HandleConnection(conn, c.ClientIP())
}

// HandleConnection takes an established WebSocket connection and starts its
// pumps. The connection stays in the opening state until a signed join frame
// is accepted.
func (h *Hub) HandleConnection(conn wsConnection, remoteAddr string) {
	cl := newClient(h, conn, remoteAddr)

	metrics.IncConnection()
	h.connWg.Add(2)
	go cl.writePump()
	go cl.readPump()
}

// originAllowed applies the browser same-origin policy. Requests without an
// Origin header are non-browser clients and pass. In development mode, or
// when no origins are configured, every origin passes.
func (h *Hub) originAllowed(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if h.devMode || len(h.allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// fanOut delivers a data frame to every member of the room except exceptKey.
func (h *Hub) fanOut(room, exceptKey string, v any) {
	for _, conn := range h.registry.ConnsExcept(room, exceptKey) {
		conn.Send(v)
	}
}

// fanOutControl delivers a priority frame to every member except exceptKey.
func (h *Hub) fanOutControl(room, exceptKey string, v any) {
	for _, conn := range h.registry.ConnsExcept(room, exceptKey) {
		conn.SendControl(v)
	}
}

// memberLeft announces a departure to the room and tears down the room's bus
// subscription when the last member is gone.
func (h *Hub) memberLeft(room string, who wire.Participant, emptied bool) {
	if emptied {
		metrics.ConnectionsByRoom.DeleteLabelValues(room)
		h.unsubscribeRoom(room)
	} else {
		metrics.ConnectionsByRoom.WithLabelValues(room).Set(float64(h.registry.Count(room)))
	}
	h.fanOutControl(room, who.PublicKey, wire.NewUserLeft(room, who))
	logging.Info(context.Background(), "participant left room",
		zap.String("room", room),
		zap.String("publicKey", logging.AbbrevKey(who.PublicKey)))
}

// SendDeleteMsg fans a delete-msg frame to every member of the room except
// the requester's own connection, then relays it to sibling instances.
// Called by the HTTP delete paths after the row is gone.
func (h *Hub) SendDeleteMsg(room, messageID, requesterKey string) {
	frame := wire.NewDeleteMsg(room, messageID)
	h.fanOutControl(room, requesterKey, frame)
	if err := h.bus.Publish(context.Background(), room, wire.FrameDeleteMsg, frame, requesterKey); err != nil {
		logging.Warn(context.Background(), "failed to relay delete-msg to bus",
			zap.String("room", room), zap.Error(err))
	}
}

// subscribeRoom starts the bus subscription for a room the first time a
// member appears on this instance.
func (h *Hub) subscribeRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[room]; ok {
		return
	}
	ctx, cancel := context.WithCancel(h.rootCtx)
	h.subs[room] = cancel
	h.bus.Subscribe(ctx, room, &h.subWg, func(p bus.Payload) {
		h.relayFromBus(room, p)
	})
}

// unsubscribeRoom cancels the room's bus subscription once it has no local
// members left.
func (h *Hub) unsubscribeRoom(room string) {
	h.mu.Lock()
	cancel, ok := h.subs[room]
	if ok {
		delete(h.subs, room)
	}
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// relayFromBus delivers a frame published by a sibling instance to the local
// members of the room. The bus already filtered this instance's own echoes;
// SenderKey keeps the originator from receiving their own frame when they are
// connected here.
func (h *Hub) relayFromBus(room string, p bus.Payload) {
	if len(p.Frame) == 0 {
		return
	}
	frame := json.RawMessage(p.Frame)
	switch p.Event {
	case wire.FrameDeleteMsg:
		h.fanOutControl(room, p.SenderKey, frame)
	default:
		h.fanOut(room, p.SenderKey, frame)
	}
}

func (h *Hub) isDraining() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draining
}

// Shutdown gracefully closes every connection: stop accepting upgrades, send
// close frames, wait for the pumps bounded by ctx, then cancel the bus
// subscriptions. The registry is empty when this returns without error.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	alreadyDraining := h.draining
	h.draining = true
	h.mu.Unlock()

	if !alreadyDraining {
		logging.Info(ctx, "Shutting down hub - closing all connections...")
		closed := 0
		for _, room := range h.registry.Rooms() {
			for _, conn := range h.registry.ConnsExcept(room, "") {
				conn.Close()
				closed++
			}
		}
		logging.Info(ctx, "Close frames queued", zap.Int("connections", closed))
	}

	done := make(chan struct{})
	go func() {
		h.connWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	h.rootCancel()
	h.subWg.Wait()

	if err != nil {
		logging.Warn(ctx, "Hub shutdown timed out waiting for connection pumps", zap.Error(err))
		return err
	}
	logging.Info(ctx, "Hub shutdown complete", zap.Int("openRooms", len(h.registry.Rooms())))
	return nil
}
