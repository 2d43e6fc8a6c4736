package discovery_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/manifest"
)

func TestCacheServesRepeatScans(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.lua"), markedLua)

	cache, err := discovery.NewCache()
	require.NoError(t, err)

	scanner := discovery.NewScanner([]string{root}, discovery.WithCache(cache))

	first, err := scanner.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A file added after the first scan stays invisible until refresh.
	writeFile(t, filepath.Join(root, "b.lua"), markedLua)

	cached, err := scanner.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	fresh, err := scanner.Discover(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.lua"), markedLua)

	cache, err := discovery.NewCache()
	require.NoError(t, err)
	scanner := discovery.NewScanner([]string{root}, discovery.WithCache(cache))

	_, err = scanner.Discover(context.Background(), false)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "b.lua"), markedLua)
	cache.Invalidate()

	found, err := scanner.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	cache, err := discovery.NewCache(discovery.WithTTL(time.Nanosecond))
	require.NoError(t, err)

	paths := []string{"/plugins"}
	require.NoError(t, cache.Put(paths, []discovery.CandidateUnit{{ID: "x"}}))

	time.Sleep(time.Millisecond)
	_, ok := cache.Get(paths)
	assert.False(t, ok)
}

func TestCacheKeyIgnoresPathOrder(t *testing.T) {
	t.Parallel()

	cache, err := discovery.NewCache()
	require.NoError(t, err)

	require.NoError(t, cache.Put([]string{"/a", "/b"}, []discovery.CandidateUnit{{ID: "x"}}))
	got, ok := cache.Get([]string{"/b", "/a"})
	require.True(t, ok)
	assert.Equal(t, "x", got[0].ID)
}

func TestCacheGetReturnsCopy(t *testing.T) {
	t.Parallel()

	cache, err := discovery.NewCache()
	require.NoError(t, err)

	paths := []string{"/plugins"}
	require.NoError(t, cache.Put(paths, []discovery.CandidateUnit{
		{ID: "stable", Kind: discovery.UnitLua, Manifest: &manifest.Manifest{ID: "stable", Name: "Stable"}},
	}))

	got, ok := cache.Get(paths)
	require.True(t, ok)
	got[0].ID = "mutated"
	got[0].Manifest.Name = "Mutated"

	again, ok := cache.Get(paths)
	require.True(t, ok)
	assert.Equal(t, "stable", again[0].ID)
	assert.Equal(t, "Stable", again[0].Manifest.Name)
}

func TestCachePersistence(t *testing.T) {
	t.Parallel()
	cachePath := filepath.Join(t.TempDir(), "state", "discovery.json")

	cache, err := discovery.NewCache(discovery.WithPersistence(cachePath))
	require.NoError(t, err)
	require.NoError(t, cache.Put([]string{"/plugins"}, []discovery.CandidateUnit{
		{ID: "persisted", Kind: discovery.UnitLua, DiscoveredAt: time.Now().UTC()},
	}))

	_, err = os.Stat(cachePath)
	require.NoError(t, err)

	// A second cache backed by the same file starts warm.
	warm, err := discovery.NewCache(discovery.WithPersistence(cachePath))
	require.NoError(t, err)
	got, ok := warm.Get([]string{"/plugins"})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].ID)
}
