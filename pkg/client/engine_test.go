package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// fakeAPI fakes the server's history endpoints. Signed endpoints verify the
// request signature exactly like the real middleware does.
type fakeAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	ids      []string
	byID     map[string]wire.ChatMessage
	allOk    bool
	deleteOK bool
	failIDs  bool
	uploads  [][]wire.ChatMessage
	lastDays string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{allOk: true, byID: map[string]wire.ChatMessage{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms/", f.handleRooms)
	mux.HandleFunc("/api/delete-message", f.handleDelete)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) handleRooms(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/message-ids"):
		if f.failIDs {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.lastDays = r.URL.Query().Get("daysOfHistory")
		json.NewEncoder(w).Encode(map[string]any{"messageIds": f.ids})

	case strings.HasSuffix(r.URL.Path, "/get-messages-by-id"):
		var req struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		out := []wire.ChatMessage{}
		for _, id := range req.IDs {
			if m, ok := f.byID[id]; ok {
				out = append(out, m)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": out})

	case strings.HasSuffix(r.URL.Path, "/send-messages"):
		body, _ := io.ReadAll(r.Body)
		if _, err := identity.VerifyRequest(r, body); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Messages []wire.ChatMessage `json:"messages"`
		}
		json.Unmarshal(body, &req)
		f.uploads = append(f.uploads, req.Messages)
		json.NewEncoder(w).Encode(map[string]bool{"allOk": f.allOk})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if _, err := identity.VerifyRequest(r, body); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]bool{"ok": f.deleteOK})
}

func (f *fakeAPI) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// newSyncClient builds a server-mode client against the fake API with its
// own transport, closed on cleanup so no idle connections linger.
func newSyncClient(t *testing.T, f *fakeAPI, mutate func(*Options)) *Client {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)

	opts := Options{
		ServerURL:   f.srv.URL,
		KeyPair:     kp,
		DisplayName: "alice",
		ServerMode:  true,
		CacheDir:    t.TempDir(),
		HTTPClient:  &http.Client{Transport: tr, Timeout: 5 * time.Second},
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func seedRoom(t *testing.T, c *Client, room string, msgs []wire.ChatMessage) {
	t.Helper()
	blob, err := c.cache.encodeRoom(msgs)
	require.NoError(t, err)
	require.NoError(t, c.cache.writeRoom(room, blob))
}

func ownMessage(t *testing.T, c *Client, id string, ts int64, state string) wire.ChatMessage {
	t.Helper()
	msg := wire.ChatMessage{
		ID:        id,
		Timestamp: ts,
		Sender:    c.opts.DisplayName,
		Content:   "from " + c.opts.DisplayName,
		PublicKey: c.PublicKey(),
	}
	canonical, err := wire.CanonicalChatMessage(msg)
	require.NoError(t, err)
	sig, err := c.opts.KeyPair.Sign(canonical)
	require.NoError(t, err)
	msg.Signature = sig
	msg.State = state
	return msg
}

func peerMessage(id string, ts int64, state string) wire.ChatMessage {
	return wire.ChatMessage{
		ID:        id,
		Timestamp: ts,
		Sender:    "bob",
		Content:   "from bob",
		PublicKey: strings.Repeat("b", 64),
		Signature: strings.Repeat("0", 128),
		State:     state,
	}
}

func messageIDs(msgs []wire.ChatMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestHistorySyncReconciles(t *testing.T) {
	f := newFakeAPI(t)
	c := newSyncClient(t, f, nil)
	base := time.Now().UnixMilli()

	// Local: m10 and m11 previously confirmed, m12 sent by us but never
	// acknowledged. Server: m10 survived, m11 was deleted upstream, m13
	// arrived while we were offline.
	m12 := ownMessage(t, c, "m12", base-2000, wire.StateSent)
	seedRoom(t, c, "general", []wire.ChatMessage{
		peerMessage("m10", base-4000, wire.StateSaved),
		peerMessage("m11", base-3000, wire.StateSaved),
		m12,
	})
	f.ids = []string{"m10", "m13"}
	f.byID["m13"] = peerMessage("m13", base-1000, "")

	require.NoError(t, c.SyncRoom(context.Background(), "general"))

	final := c.Messages("general")
	assert.Equal(t, []string{"m10", "m12", "m13"}, messageIDs(final), "ascending by timestamp, m11 gone")
	for _, m := range final {
		assert.Equal(t, wire.StateSaved, m.State, m.ID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "30", f.lastDays, "default retention window requested")
	require.Len(t, f.uploads, 1, "only the unacknowledged message is resent")
	assert.Equal(t, []string{"m12"}, messageIDs(f.uploads[0]))
}

func TestSyncPartialUploadKeepsState(t *testing.T) {
	f := newFakeAPI(t)
	f.allOk = false
	c := newSyncClient(t, f, nil)
	base := time.Now().UnixMilli()

	seedRoom(t, c, "general", []wire.ChatMessage{ownMessage(t, c, "m12", base, wire.StateSent)})

	require.NoError(t, c.SyncRoom(context.Background(), "general"))

	final := c.Messages("general")
	require.Len(t, final, 1)
	assert.Equal(t, wire.StateSent, final[0].State, "stays pending until the server accepts the batch")
}

func TestSyncEvictsOutsideRetentionWindow(t *testing.T) {
	f := newFakeAPI(t)
	c := newSyncClient(t, f, func(o *Options) { o.ServerMode = false })
	base := time.Now().UnixMilli()
	ancient := time.Now().AddDate(0, 0, -40).UnixMilli()

	seedRoom(t, c, "general", []wire.ChatMessage{
		peerMessage("m-new", base-1000, wire.StateSaved),
		peerMessage("m-old", ancient, wire.StateSaved),
		peerMessage("m-older", base-2000, wire.StateSaved),
	})

	require.NoError(t, c.SyncRoom(context.Background(), "general"))

	final := c.Messages("general")
	assert.Equal(t, []string{"m-older", "m-new"}, messageIDs(final))
}

func TestSyncServerErrorKeepsCacheUntouched(t *testing.T) {
	f := newFakeAPI(t)
	f.failIDs = true
	c := newSyncClient(t, f, nil)
	base := time.Now().UnixMilli()

	seed := []wire.ChatMessage{
		peerMessage("m1", base-2000, wire.StateSaved),
		peerMessage("m2", base-1000, wire.StateSaved),
	}
	seedRoom(t, c, "general", seed)

	assert.Error(t, c.SyncRoom(context.Background(), "general"))
	assert.Equal(t, []string{"m1", "m2"}, messageIDs(c.Messages("general")))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newFakeAPI(t)
	f.failIDs = true
	c := newSyncClient(t, f, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := c.api.MessageIDs(ctx, "general", 30)
		require.Error(t, err)
	}
	_, err := c.api.MessageIDs(ctx, "general", 30)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "dead server should fail fast, not probe again")
}

func TestDeleteMessageEvictsLocally(t *testing.T) {
	f := newFakeAPI(t)
	f.deleteOK = true
	c := newSyncClient(t, f, nil)
	base := time.Now().UnixMilli()

	seedRoom(t, c, "general", []wire.ChatMessage{ownMessage(t, c, "m1", base, wire.StateSaved)})

	ok, err := c.DeleteMessage(context.Background(), "general", "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, c.Messages("general"))
}

func TestDeleteMessageRefusedKeepsLocal(t *testing.T) {
	f := newFakeAPI(t)
	f.deleteOK = false
	c := newSyncClient(t, f, nil)
	base := time.Now().UnixMilli()

	seedRoom(t, c, "general", []wire.ChatMessage{peerMessage("m1", base, wire.StateSaved)})

	ok, err := c.DeleteMessage(context.Background(), "general", "m1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, c.Messages("general"), 1)
}

func TestQuotaPruneDropsOldestFifth(t *testing.T) {
	f := newFakeAPI(t)
	var pruned []int
	c := newSyncClient(t, f, func(o *Options) {
		o.MaxCacheBytes = 4 << 10
		o.ConfirmPrune = func(room string, dropCount int) bool {
			pruned = append(pruned, dropCount)
			return true
		}
	})

	big := strings.Repeat("x", 400)
	var msgs []wire.ChatMessage
	for i := 0; i < 10; i++ {
		m := peerMessage("m-"+string(rune('a'+i)), int64(1000+i), wire.StateSaved)
		m.Content = big
		msgs = append(msgs, m)
	}

	final, err := c.persistRoomLocked("general", msgs)
	require.NoError(t, err)

	require.NotEmpty(t, pruned, "prune hook must be consulted")
	for _, n := range pruned {
		assert.Greater(t, n, 0)
	}
	assert.Less(t, len(final), 10)
	// Oldest messages go first: the survivors are a suffix of the input.
	assert.Equal(t, messageIDs(msgs[10-len(final):]), messageIDs(final))

	blob, err := c.cache.encodeRoom(final)
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(blob)), (c.opts.MaxCacheBytes*9)/10)
	assert.Equal(t, messageIDs(final), messageIDs(c.Messages("general")), "pruned list is what got written")
}

func TestQuotaWithoutHookRefusesWrite(t *testing.T) {
	f := newFakeAPI(t)
	c := newSyncClient(t, f, func(o *Options) { o.MaxCacheBytes = 1 << 10 })

	big := strings.Repeat("x", 2000)
	m := peerMessage("m1", 1000, wire.StateSaved)
	m.Content = big

	_, err := c.persistRoomLocked("general", []wire.ChatMessage{m})
	assert.ErrorIs(t, err, ErrCacheFull)
	assert.Empty(t, c.Messages("general"))
}
