package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/config"
	"github.com/cutpoint/pluginhost/descriptor"
)

func TestCapabilitySchemaDetector(t *testing.T) {
	t.Parallel()

	schema, err := config.CapabilitySchema(descriptor.CapabilityDetector)
	require.NoError(t, err)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "threshold")
	assert.Contains(t, props, "min_scene_length")

	// The published schema must reject out-of-range payloads.
	require.NoError(t, config.ValidateSettings(schema, map[string]any{"threshold": 0.5}))
	require.Error(t, config.ValidateSettings(schema, map[string]any{"threshold": 7.0}))
}

func TestCapabilitySchemaCoversAllCapabilities(t *testing.T) {
	t.Parallel()

	for _, c := range descriptor.Capabilities() {
		schema, err := config.CapabilitySchema(c)
		require.NoError(t, err, "capability %s", c)
		assert.NotEmpty(t, schema, "capability %s", c)
	}
}

func TestCapabilitySchemaUnknownCapability(t *testing.T) {
	t.Parallel()

	_, err := config.CapabilitySchema(descriptor.Capability("juggler"))
	require.Error(t, err)
}
