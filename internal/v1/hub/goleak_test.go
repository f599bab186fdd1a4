package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockingBus spawns a ctx-bound goroutine on Subscribe, mimicking the real
// Redis adapter's listener.
type blockingBus struct {
	*mockBus
}

func (b *blockingBus) Subscribe(ctx context.Context, room string, wg *sync.WaitGroup, handler func(bus.Payload)) {
	b.mockBus.Subscribe(ctx, room, wg, handler)
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		<-ctx.Done()
	}()
}

func TestRoomSubscriptionEndsWhenRoomEmpties(t *testing.T) {
	h := newTestHub(t, newMockStore(), &blockingBus{mockBus: newMockBus()}, nil)

	alice := joinRoom(t, h, "general", "alice")
	require.NoError(t, alice.sock.Close())

	// Leak detection happens in TestMain; here we only wait for the room to
	// empty so the subscription context is cancelled.
	require.Eventually(t, func() bool {
		return len(h.registry.Rooms()) == 0
	}, waitFor, tick)
}

func TestShutdownStopsAllSubscriptions(t *testing.T) {
	h := newTestHub(t, newMockStore(), &blockingBus{mockBus: newMockBus()}, nil)

	joinRoom(t, h, "general", "alice")
	joinRoom(t, h, "random", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	// goleak.VerifyTestMain asserts the subscription goroutines are gone.
}
