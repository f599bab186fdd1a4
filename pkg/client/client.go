// Package client is an embeddable Go client for a quanta-chat server. It
// mirrors the browser client's behavior: a live websocket session for
// realtime frames, a signed HTTP path for history sync, and a local
// per-room cache that is reconciled against server truth on every room
// open. Embedders construct a Client with their identity, join rooms, and
// receive frames through callbacks.
package client

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// Wire types re-exported so embedders never need the internal import path.
type (
	ChatMessage = wire.ChatMessage
	Participant = wire.Participant
	Attachment  = wire.Attachment
	KeyPair     = identity.KeyPair
)

// Message states as stored in the local cache.
const (
	StateSent   = wire.StateSent
	StateSaved  = wire.StateSaved
	StateFailed = wire.StateFailed
)

const (
	defaultRetentionDays = 30
	minRetentionDays     = 2
	defaultAckTimeout    = 3 * time.Second
	defaultMaxCacheBytes = 50 << 20
)

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotJoined        = errors.New("client: no room joined")
	// ErrCacheFull is returned when a cache write exceeds the quota and the
	// prune hook declined (or was not set).
	ErrCacheFull = errors.New("client: cache quota exceeded")
)

// GenerateKeyPair creates a fresh identity for a new client.
func GenerateKeyPair() (*KeyPair, error) { return identity.GenerateKeyPair() }

// KeyPairFromHex restores a previously exported identity.
func KeyPairFromHex(privHex string) (*KeyPair, error) { return identity.KeyPairFromHex(privHex) }

// NewAttachment wraps raw bytes as a wire attachment, encoding the payload
// as a data URL the way the server expects it.
func NewAttachment(name, mimeType string, data []byte) Attachment {
	return Attachment{
		Name: name,
		Type: mimeType,
		Size: int64(len(data)),
		Data: wire.EncodeDataURL(mimeType, data),
	}
}

// Options configures a Client. ServerURL, KeyPair and DisplayName are
// required; everything else has working defaults.
type Options struct {
	// ServerURL is the http(s) base of the server, e.g. "https://chat.example.com".
	// The websocket endpoint is derived from it.
	ServerURL string
	// KeyPair is the local identity used to sign joins, messages and
	// history uploads.
	KeyPair *KeyPair
	// DisplayName is the name shown to other participants.
	DisplayName string

	// ServerMode enables history sync against the server on room open.
	// When off the client runs peer-to-peer style: the local cache is the
	// only history.
	ServerMode bool

	// RetentionDays is the local history window. Cached messages older
	// than this are evicted on room open. Minimum 2, default 30.
	RetentionDays int
	// AckTimeout is how long to wait for the server's ack before
	// OnAckMissing fires for a sent message. Default 3s.
	AckTimeout time.Duration
	// MaxCacheBytes caps a room's serialized cache blob. Default 50 MiB.
	MaxCacheBytes int64
	// CacheDir overrides the cache location (default os.UserConfigDir()).
	CacheDir string

	// HTTPClient overrides the client used for history calls.
	HTTPClient *http.Client

	// ConfirmPrune is consulted when a cache write would exceed the quota:
	// return true to drop the dropCount oldest messages of the room and
	// retry. A nil hook refuses pruning.
	ConfirmPrune func(room string, dropCount int) bool

	// Callbacks, all optional, all invoked from the read loop goroutine.
	OnRoomInfo   func(room string, participants []Participant)
	OnUserLeft   func(room string, user Participant)
	OnBroadcast  func(room string, msg ChatMessage)
	OnAckMissing func(room string, messageID string)
}

// Client is a live connection plus sync engine over a local message cache.
// All methods are safe for concurrent use.
type Client struct {
	opts  Options
	api   *serverAPI
	cache *cacheStore

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	room    string
	pending map[string]pendingAck
	done    chan struct{}

	// cacheMu serializes load-modify-save cycles on the room blobs.
	cacheMu sync.Mutex
}

// New validates opts, applies defaults, and returns a disconnected Client.
func New(opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("client: ServerURL is required")
	}
	if opts.KeyPair == nil {
		return nil, errors.New("client: KeyPair is required")
	}
	if opts.DisplayName == "" {
		return nil, errors.New("client: DisplayName is required")
	}
	if _, err := wsURL(opts.ServerURL); err != nil {
		return nil, err
	}

	if opts.RetentionDays == 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	if opts.RetentionDays < minRetentionDays {
		opts.RetentionDays = minRetentionDays
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.MaxCacheBytes <= 0 {
		opts.MaxCacheBytes = defaultMaxCacheBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	cache, err := newCacheStore(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:  opts,
		api:   newServerAPI(opts.ServerURL, opts.HTTPClient, opts.KeyPair),
		cache: cache,
	}, nil
}

// PublicKey returns the client's identity key in hex.
func (c *Client) PublicKey() string { return c.opts.KeyPair.PublicKeyHex() }

// Room returns the currently joined room, or "".
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// wsURL derives the websocket endpoint from the server's http(s) base URL.
func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.New("client: ServerURL must be http(s) or ws(s)")
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
