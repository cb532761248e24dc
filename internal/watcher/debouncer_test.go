package watcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesSameKey(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	var runs atomic.Int32
	action := func() { runs.Add(1) }

	d.Schedule("/mods/kick.go", action)
	time.Sleep(10 * time.Millisecond)
	d.Schedule("/mods/kick.go", action)

	assert.Equal(t, 1, d.Pending())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncerResetsQuietPeriod(t *testing.T) {
	d := NewDebouncer(80 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int64
	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Schedule("k", func() { fired.Store(int64(time.Since(start))) })
		time.Sleep(40 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() != 0 }, 2*time.Second, 10*time.Millisecond)
	// Five events 40ms apart keep resetting an 80ms window.
	assert.GreaterOrEqual(t, time.Duration(fired.Load()), 200*time.Millisecond)
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var a, b atomic.Int32
	d.Schedule("a", func() { a.Add(1) })
	d.Schedule("b", func() { b.Add(1) })

	require.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var runs atomic.Int32
	d.Schedule("a", func() { runs.Add(1) })
	d.Schedule("b", func() { runs.Add(1) })

	assert.Equal(t, 2, d.Stop())
	assert.False(t, d.Schedule("c", func() { runs.Add(1) }))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	assert.Equal(t, 0, d.Stop())
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var runs atomic.Int32
	d.Schedule("a", func() { runs.Add(1) })
	assert.True(t, d.Cancel("a"))
	assert.False(t, d.Cancel("a"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}
