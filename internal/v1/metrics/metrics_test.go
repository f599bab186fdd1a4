package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	// promauto registers against the global default registry at init time;
	// a duplicate name would have panicked before the test ran. These checks
	// exercise the label sets and verify values move the way callers expect.

	t.Run("FramesReceived", func(t *testing.T) {
		before := testutil.ToFloat64(FramesReceived.WithLabelValues("chat"))
		FramesReceived.WithLabelValues("chat").Inc()
		after := testutil.ToFloat64(FramesReceived.WithLabelValues("chat"))
		if after != before+1 {
			t.Errorf("Expected FramesReceived to increase by 1, got %v -> %v", before, after)
		}
	})

	t.Run("FramesDropped", func(t *testing.T) {
		FramesDropped.WithLabelValues("bad_signature").Inc()
		val := testutil.ToFloat64(FramesDropped.WithLabelValues("bad_signature"))
		if val < 1 {
			t.Errorf("Expected FramesDropped to be at least 1, got %v", val)
		}
	})

	t.Run("ActiveConnections", func(t *testing.T) {
		IncConnection()
		IncConnection()
		DecConnection()
		val := testutil.ToFloat64(ActiveConnections)
		if val < 1 {
			t.Errorf("Expected ActiveConnections to be at least 1, got %v", val)
		}
	})

	t.Run("ConnectionsByRoom", func(t *testing.T) {
		ConnectionsByRoom.WithLabelValues("general").Inc()
		val := testutil.ToFloat64(ConnectionsByRoom.WithLabelValues("general"))
		if val < 1 {
			t.Errorf("Expected ConnectionsByRoom to be at least 1, got %v", val)
		}
	})

	t.Run("PipelineDuration", func(t *testing.T) {
		PipelineDuration.Observe(0.01)
		// verifying histogram buckets is complex; no-panic is the main goal here
	})

	t.Run("StoreQueryDuration", func(t *testing.T) {
		StoreQueryDuration.WithLabelValues("persist_message").Observe(0.005)
	})

	t.Run("BusCircuitState", func(t *testing.T) {
		BusCircuitState.Set(2)
		val := testutil.ToFloat64(BusCircuitState)
		if val != 2 {
			t.Errorf("Expected BusCircuitState to be 2, got %v", val)
		}
		BusCircuitState.Set(0)
	})
}
