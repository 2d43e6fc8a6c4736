package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheEntries bounds how many distinct search-path sets the
// in-memory cache retains.
const defaultCacheEntries = 16

// Cache memoizes discovery results per search-path set. Entries expire
// after a TTL and can optionally be persisted to disk so a fresh
// process starts warm.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	path    string
}

type cacheEntry struct {
	Candidates []CandidateUnit `json:"candidates"`
	ScannedAt  time.Time       `json:"scanned_at"`
}

type cacheFile struct {
	Entries map[string]cacheEntry `json:"entries"`
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets how long a cached scan stays valid.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPersistence backs the cache with a JSON file at path.
func WithPersistence(path string) CacheOption {
	return func(c *Cache) { c.path = path }
}

// NewCache creates a discovery cache. The default TTL is five minutes.
func NewCache(opts ...CacheOption) (*Cache, error) {
	entries, err := lru.New[string, cacheEntry](defaultCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("creating discovery cache: %w", err)
	}
	c := &Cache{entries: entries, ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(c)
	}
	if c.path != "" {
		c.loadFromDisk()
	}
	return c, nil
}

// Get returns the cached candidates for a search-path set, if present
// and not expired.
func (c *Cache) Get(paths []string) ([]CandidateUnit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(cacheKey(paths))
	if !ok {
		return nil, false
	}
	if time.Since(entry.ScannedAt) > c.ttl {
		c.entries.Remove(cacheKey(paths))
		return nil, false
	}
	// Hand out copies; a caller mutating its result must not corrupt
	// later hits.
	return cloneCandidates(entry.Candidates), true
}

// Put stores a scan result. With persistence configured the cache file
// is rewritten as well.
func (c *Cache) Put(paths []string, candidates []CandidateUnit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(cacheKey(paths), cacheEntry{
		Candidates: cloneCandidates(candidates),
		ScannedAt:  time.Now().UTC(),
	})
	if c.path == "" {
		return nil
	}
	return c.saveToDisk()
}

// Invalidate drops all cached results. The persisted cache file, if
// any, is removed.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	if c.path != "" {
		_ = os.Remove(c.path)
	}
}

// loadFromDisk is best effort: a missing or corrupt cache file just
// means a cold start.
func (c *Cache) loadFromDisk() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return
	}
	for key, entry := range file.Entries {
		c.entries.Add(key, entry)
	}
}

func (c *Cache) saveToDisk() error {
	file := cacheFile{Entries: make(map[string]cacheEntry)}
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok {
			file.Entries[key] = entry
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding discovery cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing discovery cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing discovery cache: %w", err)
	}
	return nil
}

func cloneCandidates(units []CandidateUnit) []CandidateUnit {
	out := make([]CandidateUnit, len(units))
	for i, unit := range units {
		out[i] = unit.Clone()
	}
	return out
}

// cacheKey derives a stable key from a search-path set regardless of
// order.
func cacheKey(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:8])
}
