package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alucardeht/hotcmd/internal/module"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu      sync.Mutex
	changed map[string]int
	removed map[string]int
}

func newRecorder() *recorder {
	return &recorder{changed: make(map[string]int), removed: make(map[string]int)}
}

func (r *recorder) ModuleChanged(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed[path]++
}

func (r *recorder) ModuleRemoved(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[path]++
}

func (r *recorder) counts(path string) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed[path], r.removed[path]
}

func startWatcher(t *testing.T, dir string, rec *recorder) *Watcher {
	t.Helper()
	config := WatcherConfig{DebounceWindow: 50 * time.Millisecond}
	w, err := New(config, module.NewMatcher(dir, module.DefaultDiscoverConfig()), rec)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestWatcherReportsChangeAndRemoval(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)

	path := filepath.Join(dir, "ping.lua")
	require.NoError(t, os.WriteFile(path, []byte("return {}"), 0644))

	require.Eventually(t, func() bool {
		changed, _ := rec.counts(path)
		return changed == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, removed := rec.counts(path)
		return removed == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), w.Faults())
}

func TestWatcherIgnoresNonModules(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0644))
	hidden := filepath.Join(dir, ".swap.go")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(0), w.Reloads())
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)
	assert.Equal(t, 1, w.WatchedDirs())

	sub := filepath.Join(dir, "fun", "games")
	require.NoError(t, os.MkdirAll(sub, 0755))
	path := filepath.Join(sub, "roll.lua")
	require.NoError(t, os.WriteFile(path, []byte("return {}"), 0644))

	require.Eventually(t, func() bool {
		changed, _ := rec.counts(path)
		return changed >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, w.WatchedDirs())

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "fun")))

	require.Eventually(t, func() bool {
		_, removedFile := rec.counts(path)
		_, removedDir := rec.counts(filepath.Join(dir, "fun"))
		return removedFile+removedDir >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(DefaultWatcherConfig(), module.NewMatcher(dir, module.DefaultDiscoverConfig()), newRecorder())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
