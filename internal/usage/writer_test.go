package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFlushesOnStop(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, WriterConfig{QueueSize: 100, BatchSize: 8, FlushInterval: time.Hour})
	w.Start()

	for i := 0; i < 20; i++ {
		require.True(t, w.Enqueue(Record{
			InvocationID: fmt.Sprintf("inv-%d", i),
			Command:      "ping",
			InvokerID:    "u1",
			Timestamp:    time.Now(),
		}))
	}
	w.Stop()
	w.Stop()

	stats, err := s.Stats(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Total)
	assert.Equal(t, int64(20), w.Stats().Written)

	assert.False(t, w.Enqueue(Record{InvocationID: "late", Command: "ping"}))
	assert.Equal(t, int64(1), w.Stats().Dropped)
}

func TestWriterFlushesOnInterval(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, WriterConfig{QueueSize: 10, BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	w.Start()
	defer w.Stop()

	require.True(t, w.Enqueue(Record{InvocationID: "1", Command: "kick", InvokerID: "u1", Timestamp: time.Now()}))

	require.Eventually(t, func() bool {
		return w.Stats().Written == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrackerFeedsWriter(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, DefaultWriterConfig())
	w.Start()

	tr := NewTracker(2, w)
	tr.Record(Record{InvocationID: "1", Command: "a", InvokerID: "u1", Timestamp: time.Now()})
	tr.Record(Record{InvocationID: "2", Command: "b", InvokerID: "u1", Timestamp: time.Now()})
	tr.Record(Record{InvocationID: "3", Command: "c", InvokerID: "u1", Timestamp: time.Now()})
	w.Stop()

	assert.Equal(t, 2, tr.Len())

	stats, err := s.Stats(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}
