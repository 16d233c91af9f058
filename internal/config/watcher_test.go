package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

type change struct {
	prev, next *Config
}

func startWatcher(t *testing.T, path string, current *Config) (*Watcher, <-chan change, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	changes := make(chan change, 4)

	w, err := NewWatcher(path, current, func(prev, next *Config) {
		changes <- change{prev: prev, next: next}
	}, WithWatcherLogger(zap.New(core)), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	require.NoError(t, w.Start(ctx))
	return w, changes, logs
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "orchestrator:\n  speed: normal\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, changes, _ := startWatcher(t, path, initial)

	rewrite(t, path, "orchestrator:\n  speed: fast\nlogging:\n  level: debug\n")

	select {
	case c := <-changes:
		assert.Same(t, initial, c.prev)
		assert.Equal(t, orchestrator.SpeedNormal, c.prev.Orchestrator.Speed)
		assert.Equal(t, orchestrator.SpeedFast, c.next.Orchestrator.Speed)
		assert.Equal(t, "debug", c.next.Logging.Level)
		assert.Same(t, c.next, w.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestWatcher_InvalidChangeKeepsCurrent(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "orchestrator:\n  speed: slow\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, changes, logs := startWatcher(t, path, initial)

	rewrite(t, path, "orchestrator:\n  speed: warp\n")

	require.Eventually(t, func() bool {
		return logs.FilterMessage("config reload failed, keeping previous configuration").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Same(t, initial, w.Current())
	assert.Empty(t, changes)

	rewrite(t, path, "orchestrator:\n  speed: instant\n")
	select {
	case c := <-changes:
		assert.Same(t, initial, c.prev)
		assert.Equal(t, orchestrator.SpeedInstant, c.next.Orchestrator.Speed)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid change")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9090\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, changes, _ := startWatcher(t, path, initial)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))
	time.Sleep(200 * time.Millisecond)

	assert.Empty(t, changes)
	assert.Same(t, initial, w.Current())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9090\n")

	w, err := NewWatcher(path, Default(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	dir := setupTestHome(t)
	w, err := NewWatcher(filepath.Join(dir, "config.yaml"), Default(), nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestNewWatcher_NilCurrent(t *testing.T) {
	setupTestHome(t)
	_, err := NewWatcher("", nil, nil)
	assert.Error(t, err)
}
