package discovery_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/discovery"
)

func TestWatcherInvalidatesCacheOnChange(t *testing.T) {
	root := t.TempDir()

	cache, err := discovery.NewCache()
	require.NoError(t, err)
	require.NoError(t, cache.Put([]string{root}, []discovery.CandidateUnit{{ID: "stale"}}))

	changed := make(chan struct{}, 1)
	watcher, err := discovery.NewWatcher([]string{root}, cache,
		discovery.WithDebounce(20*time.Millisecond),
		discovery.WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}))
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	writeFile(t, filepath.Join(root, "new.lua"), markedLua)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the change")
	}

	_, ok := cache.Get([]string{root})
	assert.False(t, ok, "cache entry should be invalidated")
}

func TestWatcherSkipsMissingPaths(t *testing.T) {
	t.Parallel()

	watcher, err := discovery.NewWatcher([]string{"/does/not/exist"}, nil)
	require.NoError(t, err)
	require.NoError(t, watcher.Close())
}
