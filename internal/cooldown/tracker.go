// Package cooldown enforces a minimum interval between invocations of one
// command by one invoker.
package cooldown

import (
	"sync"
	"time"
)

// Result of a Check. Ready means the caller may proceed and a new window has
// started; otherwise Remaining is how long is left on the active window.
type Result struct {
	Ready     bool
	Remaining time.Duration
}

type entry struct {
	expiry time.Time
	timer  *time.Timer
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Tracker is the command -> invoker -> expiry ledger. Entries exist only
// while their window is active and remove themselves when it ends.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]map[string]*entry
	now     func() time.Time
	stopped bool
}

type Option func(*Tracker)

// WithClock overrides time.Now. Expiry timers still run on the real clock;
// a check against an expired entry replaces it regardless.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Check tests and sets the window for (command, invoker) in one step. A
// zero or negative window is always Ready and leaves no entry behind.
func (t *Tracker) Check(command, invoker string, window time.Duration) Result {
	if window <= 0 {
		return Result{Ready: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	byInvoker := t.entries[command]
	if e, ok := byInvoker[invoker]; ok {
		if remaining := e.expiry.Sub(now); remaining > 0 {
			return Result{Remaining: remaining}
		}
		e.stop()
	}

	if byInvoker == nil {
		byInvoker = make(map[string]*entry)
		t.entries[command] = byInvoker
	}

	e := &entry{expiry: now.Add(window)}
	if !t.stopped {
		e.timer = time.AfterFunc(window, func() { t.expire(command, invoker, e) })
	}
	byInvoker[invoker] = e
	return Result{Ready: true}
}

func (t *Tracker) expire(command, invoker string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byInvoker := t.entries[command]
	if byInvoker[invoker] != e {
		return
	}
	delete(byInvoker, invoker)
	if len(byInvoker) == 0 {
		delete(t.entries, command)
	}
}

// Remaining reports the time left for (command, invoker) without touching
// the ledger.
func (t *Tracker) Remaining(command, invoker string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[command][invoker]
	if !ok {
		return 0
	}
	if remaining := e.expiry.Sub(t.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Reset clears every window for command.
func (t *Tracker) Reset(command string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries[command] {
		e.stop()
	}
	delete(t.entries, command)
}

// Active counts entries currently held.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, byInvoker := range t.entries {
		n += len(byInvoker)
	}
	return n
}

// Stop cancels every expiry timer. Windows already set keep being honored
// by Check; they are simply no longer removed in the background.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for _, byInvoker := range t.entries {
		for _, e := range byInvoker {
			e.stop()
		}
	}
}
