package hub

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/bus"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// mockStore implements Store with in-memory state.
type mockStore struct {
	mu          sync.Mutex
	rooms       map[string]int
	persisted   []wire.ChatMessage
	blocked     map[string]bool
	failPersist bool
	failBlocked bool
}

func newMockStore() *mockStore {
	return &mockStore{
		rooms:   make(map[string]int),
		blocked: make(map[string]bool),
	}
}

func (m *mockStore) GetOrCreateRoom(_ context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.rooms[name]; ok {
		return id, nil
	}
	id := len(m.rooms) + 1
	m.rooms[name] = id
	return id, nil
}

func (m *mockStore) PersistMessage(_ context.Context, _ int, msg wire.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPersist {
		return context.DeadlineExceeded
	}
	m.persisted = append(m.persisted, msg)
	return nil
}

func (m *mockStore) IsBlocked(_ context.Context, publicKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBlocked {
		return false, context.DeadlineExceeded
	}
	return m.blocked[publicKey], nil
}

func (m *mockStore) persistedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.persisted)
}

func (m *mockStore) block(publicKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[publicKey] = true
}

// mockBus implements Bus and records published payloads.
type mockBus struct {
	mu        sync.Mutex
	published []bus.Payload
	handlers  map[string]func(bus.Payload)
}

func newMockBus() *mockBus {
	return &mockBus{handlers: make(map[string]func(bus.Payload))}
}

func (m *mockBus) Publish(_ context.Context, room, event string, frame any, senderKey string) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, bus.Payload{
		Room:      room,
		Event:     event,
		Frame:     data,
		SenderKey: senderKey,
	})
	return nil
}

func (m *mockBus) Subscribe(_ context.Context, room string, _ *sync.WaitGroup, handler func(bus.Payload)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[room] = handler
}

func (m *mockBus) publishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *mockBus) lastPublished() (bus.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return bus.Payload{}, false
	}
	return m.published[len(m.published)-1], true
}

// inject simulates a payload arriving from a sibling instance.
func (m *mockBus) inject(room string, p bus.Payload) bool {
	m.mu.Lock()
	handler, ok := m.handlers[room]
	m.mu.Unlock()
	if ok {
		handler(p)
	}
	return ok
}

// stubLimiter implements Limiter with fixed answers.
type stubLimiter struct {
	allowUpgrade bool
	allowFrame   bool
}

func (s *stubLimiter) CheckUpgrade(_ context.Context, _ string) bool { return s.allowUpgrade }
func (s *stubLimiter) CheckFrame(_ context.Context, _ string) bool   { return s.allowFrame }

// fakeSocket implements wsConnection without a network. Frames are fed in
// through a channel and captured text frames can be inspected.
type fakeSocket struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
	closeCh chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeSocket) feed(data []byte) {
	f.inbound <- data
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closeCh:
		return 0, nil, io.EOF
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	if messageType == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		f.written = append(f.written, cp)
	}
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeSocket) SetWriteDeadline(_ time.Time) error  { return nil }
func (f *fakeSocket) SetReadDeadline(_ time.Time) error   { return nil }
func (f *fakeSocket) SetReadLimit(_ int64)                {}
func (f *fakeSocket) SetPongHandler(_ func(string) error) {}

// textFrames returns a copy of every text frame written so far.
func (f *fakeSocket) textFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// framesOfType decodes the captured frames and keeps those matching the type.
func (f *fakeSocket) framesOfType(t *testing.T, frameType string) []wire.Frame {
	t.Helper()
	var out []wire.Frame
	for _, data := range f.textFrames() {
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			continue
		}
		if frame.FrameType() == frameType {
			out = append(out, frame)
		}
	}
	return out
}

// --- signed frame builders ---

func signedJoin(t *testing.T, kp *identity.KeyPair, room, name string) []byte {
	t.Helper()
	f := wire.JoinFrame{
		Type: wire.FrameJoin,
		Room: room,
		User: wire.Participant{Name: name, PublicKey: kp.PublicKeyHex()},
	}
	canonical, err := wire.CanonicalJoin(f)
	require.NoError(t, err)
	sig, err := kp.Sign(canonical)
	require.NoError(t, err)
	f.Signature = sig
	data, err := json.Marshal(&f)
	require.NoError(t, err)
	return data
}

func signedChatMessage(t *testing.T, kp *identity.KeyPair, id, sender, content string) wire.ChatMessage {
	t.Helper()
	msg := wire.ChatMessage{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Sender:    sender,
		Content:   content,
		PublicKey: kp.PublicKeyHex(),
	}
	canonical, err := wire.CanonicalChatMessage(msg)
	require.NoError(t, err)
	sig, err := kp.Sign(canonical)
	require.NoError(t, err)
	msg.Signature = sig
	return msg
}

func broadcastFrame(t *testing.T, msg wire.ChatMessage) []byte {
	t.Helper()
	f := wire.BroadcastFrame{Type: wire.FrameBroadcast, Message: msg}
	data, err := json.Marshal(&f)
	require.NoError(t, err)
	return data
}

func signedOffer(t *testing.T, kp *identity.KeyPair, id, room, offerText string, target wire.Participant) []byte {
	t.Helper()
	offerJSON, err := json.Marshal(offerText)
	require.NoError(t, err)
	f := wire.OfferFrame{
		Type:      wire.FrameOffer,
		ID:        id,
		Offer:     offerJSON,
		Target:    target,
		Room:      room,
		PublicKey: kp.PublicKeyHex(),
	}
	canonical, err := wire.CanonicalOffer(f)
	require.NoError(t, err)
	sig, err := kp.Sign(canonical)
	require.NoError(t, err)
	f.Signature = sig
	data, err := json.Marshal(&f)
	require.NoError(t, err)
	return data
}
