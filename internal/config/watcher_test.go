package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelRecorder struct {
	mu     sync.Mutex
	levels []string
	reject string
}

func (r *levelRecorder) apply(level string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level == r.reject {
		return errors.New("invalid")
	}
	r.levels = append(r.levels, level)
	return nil
}

func (r *levelRecorder) applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.levels...)
}

func TestWatcherReload(t *testing.T) {
	isolateEnv(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	rec := &levelRecorder{reject: "chatty"}
	w := NewWatcher(envPath, "info", rec.apply)

	w.Reload() // missing file is ignored
	assert.Empty(t, rec.applied())

	require.NoError(t, os.WriteFile(envPath, []byte("HOSTSTAT_LOG_LEVEL=debug\n"), 0o644))
	w.Reload()
	w.Reload()
	assert.Equal(t, []string{"debug"}, rec.applied())
	assert.Equal(t, "debug", w.LogLevel())

	require.NoError(t, os.WriteFile(envPath, []byte("HOSTSTAT_LOG_LEVEL=chatty\n"), 0o644))
	w.Reload()
	assert.Equal(t, "debug", w.LogLevel())
}

func TestWatcherProcessEnvWins(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HOSTSTAT_LOG_LEVEL", "warn")
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("HOSTSTAT_LOG_LEVEL=debug\n"), 0o644))

	rec := &levelRecorder{}
	w := NewWatcher(envPath, "warn", rec.apply)
	w.Reload()
	assert.Empty(t, rec.applied())
}

func TestWatcherHandleEvents(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	rec := &levelRecorder{}
	w := NewWatcher(envPath, "info", rec.apply)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.handleEvents(ctx, events, errs) }()

	require.NoError(t, os.WriteFile(envPath, []byte("HOSTSTAT_LOG_LEVEL=trace\n"), 0o644))
	events <- fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: envPath, Op: fsnotify.Write}
	errs <- errors.New("watch overflow")

	require.Eventually(t, func() bool {
		return len(rec.applied()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "trace", w.LogLevel())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcherRunPicksUpFileChanges(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	rec := &levelRecorder{}
	w := NewWatcher(envPath, "info", rec.apply)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(envPath, []byte("HOSTSTAT_LOG_LEVEL=error\n"), 0o644)
		return w.LogLevel() == "error"
	}, 3*time.Second, 150*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
