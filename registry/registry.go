// Package registry keeps the durable catalog of plugin descriptors and
// computes dependency-ordered load sequences over it.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cutpoint/pluginhost/descriptor"
)

// Registry is the durable descriptor catalog keyed by plugin id.
//
// Mutations are serialized under a write lock and trigger a full
// rewrite of the backing catalog file when persistence is configured.
// Single-process ownership of the catalog file is assumed.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*descriptor.Descriptor
	store       *catalogStore
	created     time.Time
	logger      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalogPath enables persistence to the given catalog file.
func WithCatalogPath(path string) Option {
	return func(r *Registry) {
		if path != "" {
			r.store = &catalogStore{path: path}
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry, loading the existing catalog when a catalog
// path is configured.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]*descriptor.Descriptor),
		created:     time.Now().UTC(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		cat, err := r.store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		r.descriptors = cat.Plugins
		r.created = cat.Metadata.CreatedAt
	}
	return r, nil
}

// Register adds or overwrites a descriptor. Re-registration with the
// same id overwrites in place (last write wins), preserving the
// original registration timestamp. Dependencies may reference ids not
// yet present; that is recorded, not rejected.
func (r *Registry) Register(d *descriptor.Descriptor) error {
	if _, err := descriptor.NewPluginID(d.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := d.Clone()
	stored.LastUpdated = now
	if prev, ok := r.descriptors[d.ID]; ok {
		stored.RegisteredAt = prev.RegisteredAt
	} else {
		stored.RegisteredAt = now
	}

	r.descriptors[d.ID] = stored
	return r.persistLocked()
}

// Unregister removes a descriptor by id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[id]; !ok {
		return &descriptor.NotFoundError{ID: id}
	}
	delete(r.descriptors, id)
	return r.persistLocked()
}

// SetStatus transitions a descriptor's lifecycle status.
func (r *Registry) SetStatus(id string, status descriptor.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return &descriptor.NotFoundError{ID: id}
	}
	d.Status = status
	d.LastUpdated = time.Now().UTC()
	return r.persistLocked()
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (*descriptor.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, &descriptor.NotFoundError{ID: id}
	}
	return d.Clone(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[id]
	return ok
}

// All returns copies of every descriptor, sorted by id.
func (r *Registry) All() []*descriptor.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(*descriptor.Descriptor) bool { return true })
}

// FindByCapability returns descriptors declaring the given capability.
func (r *Registry) FindByCapability(c descriptor.Capability) []*descriptor.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(d *descriptor.Descriptor) bool { return d.Capability == c })
}

// FindByStatus returns descriptors in the given lifecycle state.
func (r *Registry) FindByStatus(s descriptor.Status) []*descriptor.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(d *descriptor.Descriptor) bool { return d.Status == s })
}

// Search returns descriptors whose id, name, description or author
// contains the query, case-insensitively.
func (r *Registry) Search(query string) []*descriptor.Descriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(d *descriptor.Descriptor) bool {
		return strings.Contains(strings.ToLower(d.ID), q) ||
			strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) ||
			strings.Contains(strings.ToLower(d.Author), q)
	})
}

// Count returns the number of registered descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Clear removes every descriptor from the catalog.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = make(map[string]*descriptor.Descriptor)
	return r.persistLocked()
}

// Export returns the catalog document for interchange.
func (r *Registry) Export() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make(map[string]*descriptor.Descriptor, len(r.descriptors))
	for id, d := range r.descriptors {
		plugins[id] = d.Clone()
	}
	return &Catalog{
		Metadata: CatalogMetadata{
			Version:     catalogVersion,
			CreatedAt:   r.created,
			LastUpdated: time.Now().UTC(),
		},
		Plugins: plugins,
	}
}

// Import merges a catalog document into the registry, last write wins.
func (r *Registry) Import(cat *Catalog) error {
	if cat == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, d := range cat.Plugins {
		if d == nil {
			r.logger.Warn("skipping empty catalog entry", "id", id)
			continue
		}
		if _, err := descriptor.NewPluginID(id); err != nil {
			r.logger.Warn("skipping catalog entry with invalid id", "id", id, "error", err)
			continue
		}
		stored := d.Clone()
		stored.LastUpdated = now
		if prev, ok := r.descriptors[id]; ok {
			stored.RegisteredAt = prev.RegisteredAt
		} else if stored.RegisteredAt.IsZero() {
			stored.RegisteredAt = now
		}
		r.descriptors[id] = stored
	}
	return r.persistLocked()
}

func (r *Registry) collectLocked(keep func(*descriptor.Descriptor) bool) []*descriptor.Descriptor {
	var out []*descriptor.Descriptor
	for _, d := range r.descriptors {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) persistLocked() error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(&Catalog{
		Metadata: CatalogMetadata{CreatedAt: r.created},
		Plugins:  r.descriptors,
	})
}
