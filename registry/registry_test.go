package registry_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/registry"
)

func newDescriptor(id string, deps ...string) *descriptor.Descriptor {
	d := &descriptor.Descriptor{
		ID:         id,
		Name:       id,
		Version:    "1.0.0",
		Capability: descriptor.CapabilityDetector,
		Status:     descriptor.StatusUnknown,
	}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, descriptor.Dependency{ID: dep})
	}
	return d
}

func TestRegisterOverwritesInPlace(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)

	first := newDescriptor("demo")
	first.Description = "first"
	require.NoError(t, r.Register(first))

	got, err := r.Get("demo")
	require.NoError(t, err)
	registeredAt := got.RegisteredAt

	second := newDescriptor("demo")
	second.Description = "second"
	require.NoError(t, r.Register(second))

	assert.Equal(t, 1, r.Count())
	got, err = r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Description)
	assert.Equal(t, registeredAt, got.RegisteredAt)
}

func TestRegisterRejectsInvalidID(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)
	require.Error(t, r.Register(newDescriptor("../escape")))
	assert.Equal(t, 0, r.Count())
}

func TestRegisterAllowsUnresolvedDependencies(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register(newDescriptor("b", "never-registered")))

	ok, missing, err := r.ValidateDependencies("b", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"never-registered"}, missing)
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register(newDescriptor("demo")))

	require.NoError(t, r.Unregister("demo"))
	err = r.Unregister("demo")
	assert.ErrorIs(t, err, descriptor.ErrNotFound)
}

func TestQueries(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)

	det := newDescriptor("content-detector")
	det.Description = "adaptive shot boundary detection"
	require.NoError(t, r.Register(det))

	exp := newDescriptor("csv-exporter")
	exp.Capability = descriptor.CapabilityExporter
	exp.Author = "Av Ery"
	require.NoError(t, r.Register(exp))
	require.NoError(t, r.SetStatus("csv-exporter", descriptor.StatusActive))

	t.Run("by capability", func(t *testing.T) {
		got := r.FindByCapability(descriptor.CapabilityExporter)
		require.Len(t, got, 1)
		assert.Equal(t, "csv-exporter", got[0].ID)
	})

	t.Run("by status", func(t *testing.T) {
		got := r.FindByStatus(descriptor.StatusActive)
		require.Len(t, got, 1)
		assert.Equal(t, "csv-exporter", got[0].ID)
	})

	t.Run("search matches description", func(t *testing.T) {
		got := r.Search("BOUNDARY")
		require.Len(t, got, 1)
		assert.Equal(t, "content-detector", got[0].ID)
	})

	t.Run("search matches author", func(t *testing.T) {
		got := r.Search("av ery")
		require.Len(t, got, 1)
	})

	t.Run("empty query matches nothing", func(t *testing.T) {
		assert.Empty(t, r.Search("  "))
	})

	t.Run("all is sorted", func(t *testing.T) {
		all := r.All()
		require.Len(t, all, 2)
		assert.Equal(t, "content-detector", all[0].ID)
		assert.Equal(t, "csv-exporter", all[1].ID)
	})
}

func TestCatalogPersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")

	r, err := registry.New(registry.WithCatalogPath(path))
	require.NoError(t, err)
	require.NoError(t, r.Register(newDescriptor("demo")))
	require.NoError(t, r.SetStatus("demo", descriptor.StatusLoaded))

	// Every mutation rewrites the whole file; it must be valid JSON
	// with the root metadata block after each write.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Metadata registry.CatalogMetadata `json:"metadata"`
		Plugins  map[string]any           `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Metadata.Version)
	assert.False(t, doc.Metadata.LastUpdated.IsZero())
	assert.Contains(t, doc.Plugins, "demo")

	// A fresh registry over the same path sees the same state.
	r2, err := registry.New(registry.WithCatalogPath(path))
	require.NoError(t, err)
	got, err := r2.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusLoaded, got.Status)
}

func TestExportImport(t *testing.T) {
	t.Parallel()

	src, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, src.Register(newDescriptor("a")))
	require.NoError(t, src.Register(newDescriptor("b", "a")))

	dst, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, dst.Register(newDescriptor("b"))) // will be overwritten

	require.NoError(t, dst.Import(src.Export()))
	assert.Equal(t, 2, dst.Count())

	got, err := dst.Get("b")
	require.NoError(t, err)
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "a", got.Dependencies[0].ID)
}

func TestImportSkipsNullEntries(t *testing.T) {
	t.Parallel()

	// Hand-edited or truncated exports can carry null plugin records;
	// importing one must not bring the registry down.
	var cat registry.Catalog
	require.NoError(t, json.Unmarshal([]byte(`{
		"metadata": {"version": 1},
		"plugins": {
			"ghost": null,
			"real": {"id": "real", "name": "Real", "version": "1.0.0"}
		}
	}`), &cat))

	r, err := registry.New()
	require.NoError(t, err)
	require.NotPanics(t, func() {
		require.NoError(t, r.Import(&cat))
	})

	assert.False(t, r.Has("ghost"))
	assert.True(t, r.Has("real"))
}

func TestCatalogLoadDropsNullEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"metadata": {"version": 1},
		"plugins": {
			"ghost": null,
			"real": {"id": "real", "name": "Real", "version": "1.0.0"}
		}
	}`), 0o644))

	r, err := registry.New(registry.WithCatalogPath(path))
	require.NoError(t, err)
	assert.False(t, r.Has("ghost"))
	assert.True(t, r.Has("real"))
}

func TestClear(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register(newDescriptor("a")))
	require.NoError(t, r.Clear())
	assert.Equal(t, 0, r.Count())
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register(newDescriptor("a", "dep")))

	got, err := r.Get("a")
	require.NoError(t, err)
	got.Dependencies[0].ID = "mutated"

	again, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "dep", again.Dependencies[0].ID)
}
