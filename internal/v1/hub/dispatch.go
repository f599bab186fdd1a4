package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// dispatch routes one inbound frame. It runs on the connection's read pump,
// which makes it the serializer: frames from one connection are handled
// strictly in arrival order.
func (h *Hub) dispatch(c *client, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("undecodable").Inc()
		logging.GetLogger().Debug("dropping undecodable frame", zap.Error(err))
		return
	}
	metrics.FramesReceived.WithLabelValues(frame.FrameType()).Inc()

	state, room, self := c.snapshotIdentity()
	if state == stateClosing || state == stateClosed {
		return
	}

	// Identity-scoped rate limit, once the connection has one. Pre-join
	// traffic is covered by the per-IP upgrade limit.
	if state == stateJoined && h.limiter != nil && !h.limiter.CheckFrame(context.Background(), self.PublicKey) {
		metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	if join, ok := frame.(*wire.JoinFrame); ok {
		h.handleJoin(c, state, room, self, join)
		return
	}

	// Everything except join requires room membership.
	if state != stateJoined {
		metrics.FramesDropped.WithLabelValues("not_joined").Inc()
		logging.GetLogger().Debug("dropping frame from connection that has not joined",
			zap.String("type", frame.FrameType()))
		return
	}

	switch f := frame.(type) {
	case *wire.OfferFrame:
		h.handleOffer(room, self, f)
	case *wire.AnswerFrame:
		f.Room = room
		f.Sender = &self
		h.forwardToTarget(room, f.Target.PublicKey, f)
	case *wire.ICECandidateFrame:
		f.Room = room
		f.Sender = &self
		h.forwardToTarget(room, f.Target.PublicKey, f)
	case *wire.BroadcastFrame:
		h.handleBroadcast(c, room, self, f)
	default:
		metrics.FramesDropped.WithLabelValues("unhandled").Inc()
		logging.GetLogger().Debug("dropping frame type the server does not accept",
			zap.String("type", frame.FrameType()))
	}
}

// handleJoin verifies the signed join, registers the connection, and answers
// with the room roster. A join while already in a room is a switch.
func (h *Hub) handleJoin(c *client, state connState, currentRoom string, self wire.Participant, join *wire.JoinFrame) {
	if join.Room == "" || join.User.PublicKey == "" {
		metrics.FramesDropped.WithLabelValues("bad_frame").Inc()
		return
	}

	canonical, err := wire.CanonicalJoin(*join)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("bad_frame").Inc()
		return
	}
	if err := identity.Verify(join.User.PublicKey, join.Signature, canonical); err != nil {
		metrics.FramesDropped.WithLabelValues("bad_signature").Inc()
		logging.Warn(context.Background(), "rejecting join with invalid signature",
			zap.String("room", join.Room),
			zap.String("publicKey", logging.AbbrevKey(join.User.PublicKey)),
			zap.Error(err))
		return
	}

	// Joining another room, or re-joining under a new identity, implicitly
	// leaves the old slot and announces the departure there.
	if state == stateJoined && (currentRoom != join.Room || self.PublicKey != join.User.PublicKey) {
		if removed, emptied, ok := h.registry.Leave(currentRoom, self.PublicKey, c); ok {
			h.memberLeft(currentRoom, removed, emptied)
		}
	}

	created, superseded := h.registry.Join(join.Room, join.User, c)
	if superseded != nil {
		// The old connection keeps running but no longer routes; its own
		// teardown will find the slot taken and leave quietly.
		logging.Info(context.Background(), "connection superseded by re-join",
			zap.String("room", join.Room),
			zap.String("publicKey", logging.AbbrevKey(join.User.PublicKey)))
	}
	c.setJoined(join.Room, join.User)
	if created {
		h.subscribeRoom(join.Room)
	}
	metrics.ConnectionsByRoom.WithLabelValues(join.Room).Set(float64(h.registry.Count(join.Room)))

	// The newcomer gets everyone already here; existing members learn about
	// the newcomer when its offers arrive.
	others := make([]wire.Participant, 0)
	for _, p := range h.registry.Snapshot(join.Room) {
		if p.PublicKey == join.User.PublicKey {
			continue
		}
		others = append(others, p)
	}
	c.SendControl(wire.NewRoomInfo(join.Room, others))

	logging.Info(context.Background(), "participant joined room",
		zap.String("room", join.Room),
		zap.String("name", join.User.Name),
		zap.String("publicKey", logging.AbbrevKey(join.User.PublicKey)))
}

// handleOffer verifies the offer signature before forwarding. Answers and ICE
// candidates travel unverified; the DTLS handshake authenticates the peers.
func (h *Hub) handleOffer(room string, self wire.Participant, f *wire.OfferFrame) {
	canonical, err := wire.CanonicalOffer(*f)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("bad_frame").Inc()
		return
	}
	if err := identity.Verify(f.PublicKey, f.Signature, canonical); err != nil {
		metrics.FramesDropped.WithLabelValues("bad_signature").Inc()
		logging.Warn(context.Background(), "dropping offer with invalid signature",
			zap.String("room", room),
			zap.String("publicKey", logging.AbbrevKey(f.PublicKey)),
			zap.Error(err))
		return
	}

	f.Room = room
	f.Sender = &self
	h.forwardToTarget(room, f.Target.PublicKey, f)
}

// forwardToTarget delivers a signaling frame to a single participant in the
// sender's room. Unknown or cross-room targets drop silently: signaling must
// not be usable to probe who is in which room.
func (h *Hub) forwardToTarget(room, targetKey string, frame any) {
	conn, ok := h.registry.Lookup(room, targetKey)
	if !ok {
		metrics.FramesDropped.WithLabelValues("no_target").Inc()
		return
	}
	conn.Send(frame)
}
