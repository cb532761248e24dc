package usage

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	records []Record
}

func (s *captureSink) Enqueue(r Record) bool {
	s.records = append(s.records, r)
	return true
}

func TestTrackerEvictsOldestFirst(t *testing.T) {
	tr := NewTracker(3, nil)

	for _, cmd := range []string{"a", "b", "c", "d", "e"} {
		tr.Record(Record{Command: cmd, InvokerID: "u1"})
	}

	assert.Equal(t, 3, tr.Len())
	recent := tr.Recent(0)
	got := []string{recent[0].Command, recent[1].Command, recent[2].Command}
	assert.Equal(t, []string{"e", "d", "c"}, got)

	assert.Len(t, tr.Recent(2), 2)
}

func TestTrackerStatsFollowEviction(t *testing.T) {
	tr := NewTracker(2, nil)
	tr.Record(Record{Command: "ping", InvokerID: "u1", ContextIDs: []string{"guild-1", "chan-1"}})
	tr.Record(Record{Command: "ping", InvokerID: "u2", ContextIDs: []string{"guild-1"}})

	stats := tr.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByCommand["ping"])
	assert.Equal(t, 2, stats.ByContext["guild-1"])
	assert.Equal(t, 1, stats.ByContext["chan-1"])

	tr.Record(Record{Command: "kick", InvokerID: "u2"})

	stats = tr.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByCommand["ping"])
	assert.Equal(t, 1, stats.ByCommand["kick"])
	assert.Equal(t, 0, stats.ByInvoker["u1"])
	assert.Equal(t, 2, stats.ByInvoker["u2"])
	assert.Equal(t, 0, stats.ByContext["chan-1"])
}

func TestTrackerDefaultsAndSink(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(0, sink)
	assert.Equal(t, DefaultCapacity, tr.Capacity())

	tr.Record(Record{Command: "ping"})
	assert.Len(t, sink.records, 1)
	assert.False(t, sink.records[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), tr.Recent(1)[0].Timestamp, time.Second)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "a b c", Summarize([]string{"a", "b", "c"}))

	long := Summarize([]string{strings.Repeat("é", 500)})
	assert.Equal(t, MaxSummaryRunes, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "…"))
}
