package store

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// TestRoomName is the room CreateTestData rebuilds from scratch.
const TestRoomName = "test"

var testSenders = []string{
	"ada", "grace", "barbara", "radia", "katherine",
	"annie", "margaret", "frances", "jean", "kathleen",
}

// CreateTestData wipes the test room and refills it with 70 messages: 10 per
// day over the trailing 7 days, spread at random offsets inside each day.
func (s *Store) CreateTestData(ctx context.Context) error {
	defer observe("create_test_data", time.Now())

	if _, err := s.WipeRoom(ctx, TestRoomName); err != nil {
		return err
	}

	now := time.Now()
	msgs := make([]wire.ChatMessage, 0, 70)
	for day := 0; day < 7; day++ {
		dayEnd := now.AddDate(0, 0, -day)
		for i := 0; i < 10; i++ {
			offset := time.Duration(rand.Int63n(int64(24 * time.Hour)))
			ts := dayEnd.Add(-offset)
			msgs = append(msgs, wire.ChatMessage{
				ID:        uuid.New().String(),
				Timestamp: ts.UnixMilli(),
				Sender:    testSenders[i],
				Content:   fmt.Sprintf("Test message %d from %s (%s)", day*10+i+1, testSenders[i], ts.Format("Jan 2")),
				State:     wire.StateSaved,
			})
		}
	}

	if _, err := s.SaveMessages(ctx, TestRoomName, msgs); err != nil {
		return fmt.Errorf("failed to insert test data: %w", err)
	}
	return nil
}
