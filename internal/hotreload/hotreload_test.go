package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseDoc = `
version: "1.0"
config:
  baseUrl: "http://example.com"
  workers: 1
  timeout: 5
  duration: 10
load:
  type: concurrent
`

const brokenDoc = `
version: "1.0"
config:
  baseUrl: "not-a-url"
  workers: 1
  timeout: 5
  duration: 10
load:
  type: concurrent
`

func writeTemp(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWatcherEmitsValidReloadOnChange(t *testing.T) {
	path := writeTemp(t, baseDoc)
	w := New(path, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(baseDoc), 0o644))

	select {
	case ev := <-w.Events():
		assert.True(t, ev.Valid)
		require.NotNil(t, ev.Config)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	path := writeTemp(t, baseDoc)
	w := New(path, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(baseDoc), 0o644))
	<-w.Events()
	firstGood := w.Last()
	require.NotNil(t, firstGood)

	require.NoError(t, os.WriteFile(path, []byte(brokenDoc), 0o644))
	select {
	case ev := <-w.Events():
		assert.False(t, ev.Valid)
		assert.Error(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	assert.Same(t, firstGood, w.Last())
}

func TestWatcherClusterModeProposesInsteadOfApplying(t *testing.T) {
	path := writeTemp(t, baseDoc)
	var proposed []byte
	w := New(path, 20*time.Millisecond, func(raw []byte) error {
		proposed = raw
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(baseDoc), 0o644))

	select {
	case ev := <-w.Events():
		assert.True(t, ev.Valid)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	assert.NotEmpty(t, proposed)
	assert.Nil(t, w.Last()) // cluster mode never sets Last locally
}
