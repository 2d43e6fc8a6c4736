package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/config"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	assert.True(t, cfg.Global.Enabled)
	assert.True(t, cfg.Global.EnableSandboxing)
	assert.NotEmpty(t, cfg.Global.AllowedImports)
	assert.Equal(t, 128, cfg.Global.ResourceLimits.MaxMemoryMB)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Global.Enabled)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := config.Default()
	cfg.Global.PluginDirectories = []string{"/opt/plugins"}
	cfg.SetPluginEnabled("noisy-plugin", false)
	cfg.Plugins["tuned"] = config.Plugin{
		ResourceLimits: &config.ResourceLimits{MaxMemoryMB: 512},
		Settings:       map[string]any{"threshold": 0.7},
	}

	require.NoError(t, config.Save(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/plugins"}, loaded.Global.PluginDirectories)
	assert.False(t, loaded.PluginEnabled("noisy-plugin"))
	assert.True(t, loaded.PluginEnabled("anything-else"))
}

func TestBudgetMerging(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Plugins["heavy"] = config.Plugin{
		ResourceLimits: &config.ResourceLimits{MaxMemoryMB: 512},
	}

	heavy := cfg.BudgetFor("heavy")
	assert.Equal(t, 512, heavy.MaxMemoryMB)
	// Unset override fields inherit the global layer.
	assert.Equal(t, 30*time.Second, heavy.MaxExecution)

	plain := cfg.BudgetFor("plain")
	assert.Equal(t, 128, plain.MaxMemoryMB)
}

func TestImportPolicyFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	policy := cfg.ImportPolicy()

	ok, _ := policy.Allowed("string")
	assert.True(t, ok)
	ok, _ = policy.Allowed("debug")
	assert.False(t, ok)
}

func TestSettingsFor(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	assert.NotNil(t, cfg.SettingsFor("unknown"))
	assert.Empty(t, cfg.SettingsFor("unknown"))
}
