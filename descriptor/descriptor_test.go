package descriptor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/descriptor"
)

func TestParseCapability(t *testing.T) {
	t.Parallel()

	for _, c := range descriptor.Capabilities() {
		parsed, err := descriptor.ParseCapability(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
		assert.NotEmpty(t, c.Operation())
	}

	_, err := descriptor.ParseCapability("codec")
	require.Error(t, err)
	assert.True(t, errors.Is(err, descriptor.ErrUnknownCapability))
}

func TestCapabilityOperations(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "detect_boundaries", descriptor.CapabilityDetector.Operation())
	assert.Equal(t, "export_results", descriptor.CapabilityExporter.Operation())
	assert.False(t, descriptor.Capability("").Valid())
}

func TestDependencyConstraint(t *testing.T) {
	t.Parallel()

	t.Run("empty matches anything", func(t *testing.T) {
		dep := descriptor.Dependency{ID: "base"}
		c, err := dep.Constraint()
		require.NoError(t, err)

		d := descriptor.Descriptor{ID: "base", Version: "0.1.0"}
		v, err := d.SemVersion()
		require.NoError(t, err)
		assert.True(t, c.Check(v))
	})

	t.Run("range excludes older versions", func(t *testing.T) {
		dep := descriptor.Dependency{ID: "base", Version: ">= 1.2.0"}
		c, err := dep.Constraint()
		require.NoError(t, err)

		old := descriptor.Descriptor{ID: "base", Version: "1.1.9"}
		v, err := old.SemVersion()
		require.NoError(t, err)
		assert.False(t, c.Check(v))
	})

	t.Run("malformed constraint errors", func(t *testing.T) {
		dep := descriptor.Dependency{ID: "base", Version: "not-a-range"}
		_, err := dep.Constraint()
		require.Error(t, err)
	})
}

func TestDescriptorClone(t *testing.T) {
	t.Parallel()

	orig := &descriptor.Descriptor{
		ID:           "demo",
		Name:         "Demo",
		Version:      "1.0.0",
		Capability:   descriptor.CapabilityDetector,
		Dependencies: []descriptor.Dependency{{ID: "base"}},
		ConfigSchema: map[string]any{"threshold": map[string]any{"type": "number"}},
		Status:       descriptor.StatusLoaded,
		RegisteredAt: time.Now(),
	}

	c := orig.Clone()
	c.Dependencies[0].ID = "mutated"
	c.ConfigSchema["threshold"] = nil
	c.Status = descriptor.StatusError

	assert.Equal(t, "base", orig.Dependencies[0].ID)
	assert.NotNil(t, orig.ConfigSchema["threshold"])
	assert.Equal(t, descriptor.StatusLoaded, orig.Status)
}
