package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDetectsFileCreation(t *testing.T) {
	dir := t.TempDir()
	events := make(chan fsnotify.Event, 10)

	w, err := New(dir, func(e fsnotify.Event) { events <- e })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	target := filepath.Join(dir, "new.inst")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	select {
	case e := <-events:
		assert.Equal(t, target, e.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a debounced event, got none")
	}
}

func TestWatcherStopIsIdempotentAndBlocking(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, func(fsnotify.Event) {})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	w.Stop()
	w.Stop() // must not panic or hang
}
