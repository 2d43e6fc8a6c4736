package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cutpoint/pluginhost/descriptor"
)

// catalogVersion is the current on-disk catalog format version.
const catalogVersion = 1

// CatalogMetadata is the root metadata block of the persisted catalog.
type CatalogMetadata struct {
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Catalog is the persisted catalog document: one record per plugin id
// plus a metadata block at the root.
type Catalog struct {
	Metadata CatalogMetadata                   `json:"metadata"`
	Plugins  map[string]*descriptor.Descriptor `json:"plugins"`
}

// catalogStore persists the catalog with a full-file rewrite on every
// mutation. Write amplification is acceptable at expected catalog sizes
// (tens to low hundreds of plugins) and buys read-your-own-write
// simplicity with no recovery step.
type catalogStore struct {
	path string
}

// Load reads the catalog document. A missing file yields an empty
// catalog, not an error.
func (s *catalogStore) Load() (*Catalog, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Catalog{
			Metadata: CatalogMetadata{Version: catalogVersion, CreatedAt: time.Now().UTC()},
			Plugins:  make(map[string]*descriptor.Descriptor),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog %q: %w", s.path, err)
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decoding catalog %q: %w", s.path, err)
	}
	if cat.Plugins == nil {
		cat.Plugins = make(map[string]*descriptor.Descriptor)
	}
	// A hand-edited or truncated catalog may carry null entries; they
	// hold nothing worth keeping.
	for id, d := range cat.Plugins {
		if d == nil {
			delete(cat.Plugins, id)
		}
	}
	return &cat, nil
}

// Save rewrites the whole catalog document in place.
func (s *catalogStore) Save(cat *Catalog) error {
	cat.Metadata.Version = catalogVersion
	cat.Metadata.LastUpdated = time.Now().UTC()
	if cat.Metadata.CreatedAt.IsZero() {
		cat.Metadata.CreatedAt = cat.Metadata.LastUpdated
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
