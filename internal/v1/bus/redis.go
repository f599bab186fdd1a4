package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Payload is the standardized container for moving frames between instances.
type Payload struct {
	Room      string          `json:"room,omitempty"`
	Event     string          `json:"event"`               // The relayed frame type (e.g. "broadcast", "delete-msg")
	Frame     json.RawMessage `json:"frame,omitempty"`     // The annotated frame exactly as local members receive it
	Origin    string          `json:"origin"`              // CRITICAL: instance id, used to prevent echo (infinite loops)
	SenderKey string          `json:"senderKey,omitempty"` // Originating public key, excluded from fan-out everywhere
}

const (
	roomChannelPrefix = "quanta:room:"
	blocksChannel     = "quanta:blocks"
)

// Service handles all interaction with the Redis cluster. A nil *Service is
// valid and means single-instance mode: every method is a no-op.
type Service struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instanceID string
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// InstanceID returns this process's bus identity.
func (s *Service) InstanceID() string {
	if s == nil {
		return ""
	}
	return s.instanceID
}

// NewService creates a robust Redis connection with automatic retries.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.BusCircuitState.Set(stateVal)
		},
	}

	slog.Info("Connected to Redis Pub/Sub", "addr", addr)
	return &Service{
		client:     rdb,
		cb:         gobreaker.NewCircuitBreaker(st),
		instanceID: uuid.New().String(),
	}, nil
}

// Publish relays a frame to all other instances watching this room.
// The frame must marshal to the exact JSON local members receive; senderKey
// lets remote instances exclude the originator's own connections.
func (s *Service) Publish(ctx context.Context, room string, event string, frame any, senderKey string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		frameBytes, err := json.Marshal(frame)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal relayed frame: %w", err)
		}

		msg := Payload{
			Room:      room,
			Event:     event,
			Frame:     frameBytes,
			Origin:    s.instanceID,
			SenderKey: senderKey,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, roomChannelPrefix+room, data).Err()
	})

	if err != nil {
		metrics.BusPublishFailures.Inc()
		if err == gobreaker.ErrOpenState {
			slog.Warn("Redis Circuit Breaker Open: dropping publish", "room", room)
			return nil // Graceful degradation: local-only delivery, don't crash caller
		}
		slog.Error("Redis Publish Failed", "room", room, "error", err)
		return err
	}

	return nil
}

// Subscribe starts a background goroutine that delivers frames published by
// OTHER instances for this room. Messages carrying this instance's own origin
// id are dropped before the handler runs.
func (s *Service) Subscribe(ctx context.Context, room string, wg *sync.WaitGroup, handler func(Payload)) {
	if s == nil || s.client == nil {
		return // Single-instance mode, no Redis available
	}

	channel := roomChannelPrefix + room
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", channel)

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or connection dies
		for {
			select {
			case <-ctx.Done():
				return // Stop listening if the room closes
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", channel)
					return
				}

				var payload Payload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("Failed to unmarshal Redis message", "error", err, "raw", msg.Payload)
					continue
				}

				if payload.Origin == s.instanceID {
					continue // Our own publish echoed back
				}

				handler(payload)
			}
		}
	}()
}

// PublishBlockInvalidation tells every instance that the blocked-key set
// changed and local caches must be refreshed.
func (s *Service) PublishBlockInvalidation(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(Payload{Event: "block-invalidate", Origin: s.instanceID})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal block invalidation: %w", err)
		}
		return nil, s.client.Publish(ctx, blocksChannel, data).Err()
	})

	if err != nil {
		metrics.BusPublishFailures.Inc()
		if err == gobreaker.ErrOpenState {
			slog.Warn("Redis Circuit Breaker Open: dropping block invalidation")
			return nil // Remote caches converge on their next restart
		}
		slog.Error("Redis block invalidation publish failed", "error", err)
		return err
	}

	return nil
}

// SubscribeBlocks invokes handler whenever another instance mutates the
// blocked-key set.
func (s *Service) SubscribeBlocks(ctx context.Context, wg *sync.WaitGroup, handler func()) {
	if s == nil || s.client == nil {
		return // Single-instance mode, no Redis available
	}

	pubsub := s.client.Subscribe(ctx, blocksChannel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", blocksChannel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", blocksChannel)
					return
				}

				var payload Payload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("Failed to unmarshal Redis message", "error", err, "raw", msg.Payload)
					continue
				}

				if payload.Origin == s.instanceID {
					continue // We already refreshed before publishing
				}

				handler()
			}
		}
	}()
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}
