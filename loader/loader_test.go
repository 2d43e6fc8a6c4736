package loader_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/config"
	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	luaengine "github.com/cutpoint/pluginhost/engine/lua"
	"github.com/cutpoint/pluginhost/engine/wasm"
	"github.com/cutpoint/pluginhost/loader"
	"github.com/cutpoint/pluginhost/manifest"
	"github.com/cutpoint/pluginhost/registry"
)

const detectorScript = `
local threshold = 0.5

pluginhost.register({
	get_info = function()
		return {
			id = "%ID%",
			name = "Detector",
			version = "1.0.0",
			capability = "detector",
		}
	end,
	initialize = function(config)
		if config.threshold ~= nil then
			threshold = config.threshold
		end
		return true
	end,
	detect_boundaries = function(input)
		local found = {}
		for i, score in ipairs(input.scores) do
			if score >= threshold then
				found[#found + 1] = i
			end
		end
		return { boundaries = found }
	end,
	cleanup = function()
		return true
	end,
})
`

const refusingScript = `
pluginhost.register({
	get_info = function()
		return { id = "%ID%", name = "Refuser", version = "1.0.0", capability = "utility" }
	end,
	initialize = function()
		return false
	end,
	run = function() return {} end,
})
`

func newHarness(t *testing.T) (*loader.Loader, *registry.Registry, *config.Config) {
	t.Helper()

	reg, err := registry.New()
	require.NoError(t, err)
	cfg := config.Default()
	engines := engine.NewRegistry(wasm.NewEngine(), luaengine.NewEngine())
	l := loader.New(engines, reg, cfg)
	return l, reg, cfg
}

func writeUnit(t *testing.T, id, script string) discovery.CandidateUnit {
	t.Helper()

	path := filepath.Join(t.TempDir(), id+".lua")
	body := []byte(replaceID(script, id))
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return discovery.CandidateUnit{ID: id, Kind: discovery.UnitLua, SourcePath: path}
}

func manifestUnit(t *testing.T, id string, deps ...descriptor.Dependency) discovery.CandidateUnit {
	t.Helper()

	unit := writeUnit(t, id, detectorScript)
	unit.Manifest = &manifest.Manifest{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Capability:   "detector",
		EntryPoint:   filepath.Base(unit.SourcePath),
		Dependencies: deps,
	}
	return unit
}

func replaceID(script, id string) string {
	return strings.ReplaceAll(script, "%ID%", id)
}

func TestLoadAndInitializeActivates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := writeUnit(t, "edge-detector", detectorScript)

	require.NoError(t, l.Load(ctx, unit))
	d, err := reg.Get("edge-detector")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusLoaded, d.Status)
	assert.Equal(t, descriptor.CapabilityDetector, d.Capability)

	require.NoError(t, l.Initialize(ctx, "edge-detector"))
	d, err = reg.Get("edge-detector")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusActive, d.Status)

	input, _ := json.Marshal(map[string]any{"scores": []float64{0.1, 0.9}})
	out, err := l.Invoke(ctx, "edge-detector", input)
	require.NoError(t, err)
	assert.JSONEq(t, `{"boundaries":[2]}`, string(out))

	// Loading again is a no-op.
	require.NoError(t, l.Load(ctx, unit))
}

func TestInvokeRequiresActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _, _ := newHarness(t)
	unit := writeUnit(t, "toggler", detectorScript)
	require.NoError(t, l.Load(ctx, unit))
	require.NoError(t, l.Initialize(ctx, "toggler"))

	require.NoError(t, l.Deactivate("toggler"))
	_, err := l.Invoke(ctx, "toggler", []byte(`{"scores":[1]}`))
	require.ErrorIs(t, err, loader.ErrNotActive)

	require.NoError(t, l.Activate("toggler"))
	_, err = l.Invoke(ctx, "toggler", []byte(`{"scores":[1]}`))
	require.NoError(t, err)
}

func TestUnsafeSourceRefused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := writeUnit(t, "hostile", `
os.execute("rm -rf /")
pluginhost.register({})
`)

	err := l.Load(ctx, unit)
	require.ErrorIs(t, err, loader.ErrLoadFailed)

	var loadErr *loader.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, loader.FailureUnsafeCode, loadErr.Kind)
	assert.NotEmpty(t, loadErr.Warnings)

	assert.False(t, l.IsLoaded("hostile"))
	assert.False(t, reg.Has("hostile"), "refused candidate must not enter the catalog")
}

func TestLoadWithoutRegistration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _, _ := newHarness(t)
	unit := writeUnit(t, "mute", `local x = 1`)

	err := l.Load(ctx, unit)
	var loadErr *loader.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, loader.FailureNoRegistration, loadErr.Kind)
}

func TestDisabledPluginSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, cfg := newHarness(t)
	cfg.SetPluginEnabled("benched", false)

	unit := writeUnit(t, "benched", detectorScript)
	err := l.Load(ctx, unit)
	require.ErrorIs(t, err, loader.ErrPluginDisabled)

	assert.False(t, l.IsLoaded("benched"))
	d, err := reg.Get("benched")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusDisabled, d.Status)
}

func TestUnloadIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := writeUnit(t, "transient", detectorScript)
	require.NoError(t, l.Load(ctx, unit))
	require.NoError(t, l.Initialize(ctx, "transient"))

	require.NoError(t, l.Unload(ctx, "transient"))
	assert.False(t, l.IsLoaded("transient"))
	d, err := reg.Get("transient")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusInactive, d.Status)

	// A second unload reports there is nothing to tear down, as does
	// an id that was never loaded. Neither panics.
	require.ErrorIs(t, l.Unload(ctx, "transient"), loader.ErrNotLoaded)
	require.ErrorIs(t, l.Unload(ctx, "never-seen"), loader.ErrNotLoaded)
}

func TestReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := writeUnit(t, "refresh", detectorScript)
	require.NoError(t, l.Load(ctx, unit))
	require.NoError(t, l.Initialize(ctx, "refresh"))

	require.NoError(t, l.Reload(ctx, "refresh"))
	d, err := reg.Get("refresh")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusActive, d.Status)
}

func TestInitializeRefused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := writeUnit(t, "refuser", refusingScript)
	require.NoError(t, l.Load(ctx, unit))

	err := l.Initialize(ctx, "refuser")
	require.ErrorIs(t, err, loader.ErrInitFailed)

	var initErr *loader.InitError
	require.ErrorAs(t, err, &initErr)
	assert.True(t, initErr.Refused)

	d, err := reg.Get("refuser")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusError, d.Status)
}

func TestInitializeMissingDependency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	unit := manifestUnit(t, "dependent", descriptor.Dependency{ID: "ghost"})
	require.NoError(t, l.Load(ctx, unit))

	err := l.Initialize(ctx, "dependent")
	var loadErr *loader.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, loader.FailureMissingDependencies, loadErr.Kind)
	assert.Equal(t, []string{"ghost"}, loadErr.Missing)

	d, err := reg.Get("dependent")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusError, d.Status)
}

func TestSettingsValidatedAgainstSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _, cfg := newHarness(t)
	unit := manifestUnit(t, "tuned")
	unit.Manifest.ConfigSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"threshold": map[string]any{"type": "number"},
		},
	}
	cfg.Plugins["tuned"] = config.Plugin{Settings: map[string]any{"threshold": "very high"}}

	require.NoError(t, l.Load(ctx, unit))
	err := l.Initialize(ctx, "tuned")
	require.ErrorIs(t, err, loader.ErrInitFailed)
}

func TestLoadAllDependencyOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	base := manifestUnit(t, "base")
	mid := manifestUnit(t, "mid", descriptor.Dependency{ID: "base"})
	top := manifestUnit(t, "top", descriptor.Dependency{ID: "mid"})

	// Deliberately reversed input order.
	result := l.LoadAll(ctx, []discovery.CandidateUnit{top, mid, base})
	require.False(t, result.Failed(), "failures: %v", result.Failures)
	assert.Equal(t, []string{"base", "mid", "top"}, result.Order)
	assert.ElementsMatch(t, []string{"base", "mid", "top"}, result.Active)
	assert.Empty(t, result.CycleWarnings)

	for _, id := range []string{"base", "mid", "top"} {
		d, err := reg.Get(id)
		require.NoError(t, err)
		assert.Equal(t, descriptor.StatusActive, d.Status)
	}
}

func TestLoadAllFailForward(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, reg, _ := newHarness(t)
	good := writeUnit(t, "healthy", detectorScript)
	bad := writeUnit(t, "broken", `this is not lua (`)

	result := l.LoadAll(ctx, []discovery.CandidateUnit{bad, good})
	assert.True(t, result.Failed())
	assert.Contains(t, result.Failures, "broken")
	assert.Equal(t, []string{"healthy"}, result.Active)

	d, err := reg.Get("healthy")
	require.NoError(t, err)
	assert.Equal(t, descriptor.StatusActive, d.Status)
}

func TestLoadAllCycleWarnsAndContinues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _, _ := newHarness(t)
	a := manifestUnit(t, "alpha", descriptor.Dependency{ID: "beta"})
	b := manifestUnit(t, "beta", descriptor.Dependency{ID: "alpha"})

	result := l.LoadAll(ctx, []discovery.CandidateUnit{a, b})
	require.NotEmpty(t, result.CycleWarnings)
	// Best-effort: both participants still initialize.
	assert.ElementsMatch(t, []string{"alpha", "beta"}, result.Active)
	assert.Len(t, result.Order, 2)
}

func TestLoadAllDependentOfFailedPluginStillAttempted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _, _ := newHarness(t)
	failing := writeUnit(t, "flaky", refusingScript)
	dependent := manifestUnit(t, "needy", descriptor.Dependency{ID: "flaky"})

	result := l.LoadAll(ctx, []discovery.CandidateUnit{failing, dependent})
	assert.Contains(t, result.Failures, "flaky")
	// Registration-only dependency policy: the dependent still activates
	// because flaky is registered even though its initialize failed.
	assert.Contains(t, result.Active, "needy")
}

func TestLoadAllStrictDependencyPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg, err := registry.New()
	require.NoError(t, err)
	cfg := config.Default()
	engines := engine.NewRegistry(luaengine.NewEngine())
	l := loader.New(engines, reg, cfg, loader.WithRequireActiveDependencies(true))

	failing := writeUnit(t, "flaky", refusingScript)
	dependent := manifestUnit(t, "needy", descriptor.Dependency{ID: "flaky"})

	result := l.LoadAll(ctx, []discovery.CandidateUnit{failing, dependent})
	assert.Contains(t, result.Failures, "flaky")
	assert.Contains(t, result.Failures, "needy")
	assert.NotContains(t, result.Active, "needy")
}
