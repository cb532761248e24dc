package watcher

import (
	"sync"
	"time"
)

type pendingAction struct {
	timer *time.Timer
	seq   uint64
}

// Debouncer keeps at most one scheduled action per key. Scheduling a key
// that is already pending restarts its quiet period instead of queueing a
// second action.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingAction
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingAction),
	}
}

// Schedule runs action for key once key has been quiet for the window.
// It returns false after Stop.
func (d *Debouncer) Schedule(key string, action func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}

	d.seq++
	seq := d.seq
	p := &pendingAction{seq: seq}
	p.timer = time.AfterFunc(d.window, func() {
		d.fire(key, seq, action)
	})
	d.pending[key] = p
	return true
}

func (d *Debouncer) fire(key string, seq uint64, action func()) {
	d.mu.Lock()
	p, ok := d.pending[key]
	// A Stop()ped timer may still run if it fired while being replaced.
	if d.stopped || !ok || p.seq != seq {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	action()
}

// Cancel drops the pending action for key, if any.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending action and waits for actions already running.
// It returns how many pending actions were dropped.
func (d *Debouncer) Stop() int {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return 0
	}

	d.stopped = true
	dropped := len(d.pending)
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	d.running.Wait()
	return dropped
}
