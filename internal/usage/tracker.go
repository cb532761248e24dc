// Package usage keeps a bounded history of recent invocations.
package usage

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultCapacity = 100
	MaxSummaryRunes = 120
	summaryEllipsis = "…"
)

type Record struct {
	InvocationID    string    `json:"invocation_id"`
	Command         string    `json:"command"`
	InvokerID       string    `json:"invoker_id"`
	ContextIDs      []string  `json:"context_ids,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	ArgumentSummary string    `json:"argument_summary,omitempty"`
}

// TimestampMs is the record time in Unix milliseconds.
func (r Record) TimestampMs() int64 {
	return r.Timestamp.UnixMilli()
}

type Stats struct {
	Total     int            `json:"total"`
	ByCommand map[string]int `json:"by_command"`
	ByInvoker map[string]int `json:"by_invoker"`
	ByContext map[string]int `json:"by_context"`
}

func newStats() Stats {
	return Stats{
		ByCommand: make(map[string]int),
		ByInvoker: make(map[string]int),
		ByContext: make(map[string]int),
	}
}

// Sink receives every record after it enters the ring. Enqueue must not
// block.
type Sink interface {
	Enqueue(Record) bool
}

// Tracker is a fixed-capacity ring; the oldest record is evicted first.
type Tracker struct {
	mu   sync.Mutex
	buf  []Record
	head int
	size int
	sink Sink
}

func NewTracker(capacity int, sink Sink) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		buf:  make([]Record, capacity),
		sink: sink,
	}
}

func (t *Tracker) Capacity() int {
	return len(t.buf)
}

func (t *Tracker) Record(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.mu.Lock()
	idx := (t.head + t.size) % len(t.buf)
	if t.size == len(t.buf) {
		t.head = (t.head + 1) % len(t.buf)
	} else {
		t.size++
	}
	t.buf[idx] = r
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.Enqueue(r)
	}
}

// Len is the number of records currently held.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (t *Tracker) Recent(n int) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > t.size {
		n = t.size
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.head + t.size - 1 - i) % len(t.buf)
		out = append(out, t.buf[idx])
	}
	return out
}

// Stats aggregates whatever the ring holds right now. Nothing is counted
// incrementally, so evicted records drop out of every total together.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := newStats()
	for i := 0; i < t.size; i++ {
		r := t.buf[(t.head+i)%len(t.buf)]
		stats.add(r)
	}
	return stats
}

func (s *Stats) add(r Record) {
	s.Total++
	s.ByCommand[r.Command]++
	s.ByInvoker[r.InvokerID]++
	for _, c := range r.ContextIDs {
		s.ByContext[c]++
	}
}

// Summarize joins args and caps the result at MaxSummaryRunes.
func Summarize(args []string) string {
	s := strings.Join(args, " ")
	if utf8.RuneCountInString(s) <= MaxSummaryRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxSummaryRunes-1]) + summaryEllipsis
}
