package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// handleBroadcast runs the persistence pipeline for one chat message:
// verify, check the block list, persist, then fan out. The originator gets an
// ack only after the message is durably stored; on any failure the message is
// dropped and the sender's ack timeout surfaces the problem.
func (h *Hub) handleBroadcast(c *client, room string, self wire.Participant, f *wire.BroadcastFrame) {
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	ctx := context.Background()
	msg := f.Message

	if msg.ID == "" {
		metrics.FramesDropped.WithLabelValues("bad_frame").Inc()
		return
	}

	canonical, err := wire.CanonicalChatMessage(msg)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("bad_frame").Inc()
		return
	}
	if err := identity.Verify(msg.PublicKey, msg.Signature, canonical); err != nil {
		metrics.SignatureFailures.Inc()
		metrics.FramesDropped.WithLabelValues("bad_signature").Inc()
		logging.Warn(ctx, "dropping chat message with invalid signature",
			zap.String("room", room),
			zap.String("messageId", msg.ID),
			zap.String("publicKey", logging.AbbrevKey(msg.PublicKey)))
		return
	}

	blocked, err := h.store.IsBlocked(ctx, msg.PublicKey)
	if err != nil {
		// Treat an unavailable block list as empty; persistence below fails
		// on the same outage and still keeps the message out.
		logging.Warn(ctx, "blocked-key lookup failed", zap.Error(err))
	}
	if blocked {
		// Silent drop: the sender never learns they are blocked.
		metrics.MessagesBlocked.Inc()
		logging.Info(ctx, "dropping message from blocked key",
			zap.String("room", room),
			zap.String("publicKey", logging.AbbrevKey(msg.PublicKey)))
		return
	}

	roomID, err := h.store.GetOrCreateRoom(ctx, room)
	if err != nil {
		logging.Error(ctx, "failed to resolve room for message",
			zap.String("room", room), zap.Error(err))
		return
	}
	if err := h.store.PersistMessage(ctx, roomID, msg); err != nil {
		logging.Error(ctx, "failed to persist message - no ack will be sent",
			zap.String("room", room),
			zap.String("messageId", msg.ID),
			zap.Error(err))
		return
	}
	metrics.MessagesPersisted.Inc()

	annotated := *f
	annotated.Room = room
	annotated.Sender = &self
	annotated.Message.State = wire.StateSaved

	c.SendControl(wire.NewAck(msg.ID))
	h.fanOut(room, self.PublicKey, &annotated)

	if err := h.bus.Publish(ctx, room, wire.FrameBroadcast, &annotated, self.PublicKey); err != nil {
		logging.Warn(ctx, "failed to relay message to bus",
			zap.String("room", room), zap.Error(err))
	}
}
