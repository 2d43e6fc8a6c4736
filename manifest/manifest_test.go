package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/manifest"
)

const yamlManifest = `
id: demo
name: Demo
version: 1.0.0
capability: detector
entry_point: demo.lua
dependencies:
  - id: base
    version: ">= 1.0.0"
requests:
  imports: [os]
  paths: [./data]
`

func TestYAMLParser(t *testing.T) {
	t.Parallel()

	m, err := manifest.NewYAMLParser().Parse([]byte(yamlManifest))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, "demo", m.ID)
	assert.Equal(t, "demo.lua", m.EntryPoint)
	require.Len(t, m.Dependencies, 1)
	assert.Equal(t, "base", m.Dependencies[0].ID)
	assert.Equal(t, []string{"os"}, m.Requests.Imports)
}

func TestJSONParser(t *testing.T) {
	t.Parallel()

	data := []byte(`{"id":"demo","name":"Demo","version":"1.0.0","capability":"exporter","entry_point":"demo.wasm"}`)
	m, err := manifest.NewJSONParser().Parse(data)
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Equal(t, "exporter", m.Capability)
}

func TestManifestValidate(t *testing.T) {
	t.Parallel()

	base := func() *manifest.Manifest {
		return &manifest.Manifest{
			ID:         "demo",
			Name:       "Demo",
			Version:    "1.0.0",
			Capability: "detector",
			EntryPoint: "demo.lua",
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		m := base()
		m.Name = ""
		require.Error(t, m.Validate())
	})

	t.Run("missing entry point", func(t *testing.T) {
		m := base()
		m.EntryPoint = ""
		require.Error(t, m.Validate())
	})

	t.Run("absolute entry point", func(t *testing.T) {
		m := base()
		m.EntryPoint = "/etc/passwd"
		require.Error(t, m.Validate())
	})

	t.Run("bad version", func(t *testing.T) {
		m := base()
		m.Version = "one point oh"
		require.Error(t, m.Validate())
	})

	t.Run("unknown capability", func(t *testing.T) {
		m := base()
		m.Capability = "codec"
		require.Error(t, m.Validate())
	})

	t.Run("bad dependency constraint", func(t *testing.T) {
		m := base()
		m.Dependencies = []descriptor.Dependency{{ID: "base", Version: "latest-and-greatest"}}
		require.Error(t, m.Validate())
	})
}

func TestParserFor(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"plugin.yaml", "plugin.yml", "plugin.json"} {
		_, err := manifest.ParserFor(path)
		require.NoError(t, err, path)
	}

	_, err := manifest.ParserFor("plugin.toml")
	require.Error(t, err)
}

func TestToDescriptor(t *testing.T) {
	t.Parallel()

	m, err := manifest.NewYAMLParser().Parse([]byte(yamlManifest))
	require.NoError(t, err)

	d := m.ToDescriptor("/plugins/demo/demo.lua")
	assert.Equal(t, descriptor.StatusUnknown, d.Status)
	assert.Equal(t, descriptor.CapabilityDetector, d.Capability)
	assert.Equal(t, "/plugins/demo/demo.lua", d.SourcePath)
}
