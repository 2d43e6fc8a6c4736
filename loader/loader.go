// Package loader drives plugin lifecycle: vetting, loading through an
// execution engine, dependency-ordered initialization, activation
// toggling, and unloading. The loader owns the live-instance table;
// the registry only ever sees descriptors and statuses.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cutpoint/pluginhost/config"
	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	luaengine "github.com/cutpoint/pluginhost/engine/lua"
	"github.com/cutpoint/pluginhost/grants"
	"github.com/cutpoint/pluginhost/manifest"
	"github.com/cutpoint/pluginhost/registry"
	"github.com/cutpoint/pluginhost/sandbox"
)

// Loader manages live plugin instances.
type Loader struct {
	engines    *engine.Registry
	registry   *registry.Registry
	config     *config.Config
	gatekeeper *grants.Gatekeeper
	logger     *slog.Logger

	// trustAll auto-grants every manifest permission request.
	trustAll bool
	// requireActiveDeps makes initialize demand Active dependencies
	// instead of merely registered ones.
	requireActiveDeps bool

	mu        sync.Mutex
	instances map[string]descriptor.Instance
	units     map[string]discovery.CandidateUnit
}

// Option configures a Loader.
type Option func(*Loader)

// WithGatekeeper sets the permission gatekeeper.
func WithGatekeeper(g *grants.Gatekeeper) Option {
	return func(l *Loader) { l.gatekeeper = g }
}

// WithTrustAll auto-grants all requested permissions.
func WithTrustAll(trust bool) Option {
	return func(l *Loader) { l.trustAll = trust }
}

// WithRequireActiveDependencies makes initialization require Active
// dependencies rather than merely registered ones.
func WithRequireActiveDependencies(require bool) Option {
	return func(l *Loader) { l.requireActiveDeps = require }
}

// WithLogger sets the loader logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.logger = log }
}

// New creates a loader over the given engines, registry, and config.
func New(engines *engine.Registry, reg *registry.Registry, cfg *config.Config, opts ...Option) *Loader {
	l := &Loader{
		engines:   engines,
		registry:  reg,
		config:    cfg,
		logger:    slog.Default(),
		instances: make(map[string]descriptor.Instance),
		units:     make(map[string]discovery.CandidateUnit),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.gatekeeper == nil {
		l.gatekeeper = grants.NewGatekeeper()
	}
	return l
}

// Load vets a candidate and brings it to the Loaded state.
//
// Loading an already-loaded plugin is a no-op. A disabled plugin is
// registered as Disabled and ErrPluginDisabled is returned. A candidate
// rejected by the safety scan is refused without touching the catalog;
// failures past that point register the plugin in the Error state so
// the refusal is visible, never silent.
func (l *Loader) Load(ctx context.Context, unit discovery.CandidateUnit) error {
	l.mu.Lock()
	if _, ok := l.instances[unit.ID]; ok {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if !l.config.PluginEnabled(unit.ID) {
		l.registerUnit(unit, descriptor.StatusDisabled)
		l.logger.Info("skipping disabled plugin", "plugin", unit.ID)
		return fmt.Errorf("plugin %q: %w", unit.ID, ErrPluginDisabled)
	}

	if maxLoad := l.config.Global.MaxLoadTime; maxLoad > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(maxLoad*float64(time.Second)))
		defer cancel()
	}

	if err := l.vetSource(unit); err != nil {
		return err
	}

	guard, err := l.buildGuard(unit)
	if err != nil {
		l.registerUnit(unit, descriptor.StatusError)
		return err
	}

	eng, err := l.engines.For(unit.Kind)
	if err != nil {
		l.registerUnit(unit, descriptor.StatusError)
		return &LoadError{PluginID: unit.ID, Kind: FailureEngine, Err: err}
	}

	instance, err := eng.Load(ctx, unit, guard)
	if err != nil {
		l.registerUnit(unit, descriptor.StatusError)
		kind := FailureEngine
		if errors.Is(err, luaengine.ErrNotRegistered) {
			kind = FailureNoRegistration
		}
		return &LoadError{PluginID: unit.ID, Kind: kind, Err: err}
	}

	d, err := l.describe(ctx, unit, instance)
	if err != nil {
		_ = instance.Close(ctx)
		l.registerUnit(unit, descriptor.StatusError)
		return &LoadError{PluginID: unit.ID, Kind: FailureEngine, Err: err}
	}

	d.Status = descriptor.StatusLoaded
	if err := l.registry.Register(d); err != nil {
		_ = instance.Close(ctx)
		return &LoadError{PluginID: unit.ID, Kind: FailureEngine, Err: err}
	}

	l.mu.Lock()
	l.instances[unit.ID] = instance
	l.units[unit.ID] = unit
	l.mu.Unlock()

	l.logger.Info("plugin loaded", "plugin", unit.ID, "kind", unit.Kind, "capability", d.Capability)
	return nil
}

// Initialize moves a loaded plugin to Active: dependency and version
// checks, settings validation against the plugin's config schema, then
// the plugin's own initialize hook.
func (l *Loader) Initialize(ctx context.Context, id string) error {
	instance, err := l.instance(id)
	if err != nil {
		return err
	}

	ok, missing, err := l.registry.ValidateDependencies(id, l.requireActiveDeps)
	if err != nil {
		return err
	}
	if !ok {
		_ = l.registry.SetStatus(id, descriptor.StatusError)
		return &LoadError{PluginID: id, Kind: FailureMissingDependencies, Missing: missing}
	}
	if err := l.registry.CheckVersionConstraints(id); err != nil {
		_ = l.registry.SetStatus(id, descriptor.StatusError)
		return &InitError{PluginID: id, Err: err}
	}

	d, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	settings := l.config.SettingsFor(id)
	if err := config.ValidateSettings(d.ConfigSchema, settings); err != nil {
		_ = l.registry.SetStatus(id, descriptor.StatusError)
		return &InitError{PluginID: id, Err: err}
	}

	accepted, err := instance.Initialize(ctx, settings)
	if err != nil {
		_ = l.registry.SetStatus(id, descriptor.StatusError)
		return &InitError{PluginID: id, Err: err}
	}
	if !accepted {
		_ = l.registry.SetStatus(id, descriptor.StatusError)
		return &InitError{PluginID: id, Refused: true}
	}

	if err := l.registry.SetStatus(id, descriptor.StatusActive); err != nil {
		return err
	}
	l.logger.Info("plugin initialized", "plugin", id)
	return nil
}

// Activate re-enables an inactive plugin.
func (l *Loader) Activate(id string) error {
	if _, err := l.instance(id); err != nil {
		return err
	}
	d, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if d.Status != descriptor.StatusInactive {
		return fmt.Errorf("plugin %q: cannot activate from %s", id, d.Status)
	}
	return l.registry.SetStatus(id, descriptor.StatusActive)
}

// Deactivate suspends an active plugin without unloading it.
func (l *Loader) Deactivate(id string) error {
	d, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if d.Status != descriptor.StatusActive {
		return fmt.Errorf("plugin %q: cannot deactivate from %s", id, d.Status)
	}
	return l.registry.SetStatus(id, descriptor.StatusInactive)
}

// Invoke calls the plugin's capability operation. Only Active plugins
// are invocable.
func (l *Loader) Invoke(ctx context.Context, id string, input []byte) ([]byte, error) {
	instance, err := l.instance(id)
	if err != nil {
		return nil, err
	}

	d, err := l.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if d.Status != descriptor.StatusActive {
		return nil, fmt.Errorf("plugin %q is %s: %w", id, d.Status, ErrNotActive)
	}
	if !d.Capability.Valid() {
		return nil, fmt.Errorf("plugin %q declares no capability", id)
	}
	return instance.Invoke(ctx, d.Capability.Operation(), input)
}

// Unload tears a plugin down: best-effort cleanup hook, engine close,
// instance table removal, status to Inactive. Unloading a plugin with
// no live instance returns ErrNotLoaded, never panics, so callers can
// tell a real teardown from a no-op.
func (l *Loader) Unload(ctx context.Context, id string) error {
	l.mu.Lock()
	instance, ok := l.instances[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrNotLoaded)
	}
	delete(l.instances, id)
	l.mu.Unlock()

	if ok, err := instance.Cleanup(ctx); err != nil || !ok {
		l.logger.Warn("plugin cleanup failed, unloading anyway", "plugin", id, "error", err)
	}
	if err := instance.Close(ctx); err != nil {
		l.logger.Warn("closing plugin instance failed", "plugin", id, "error", err)
	}

	if l.registry.Has(id) {
		if err := l.registry.SetStatus(id, descriptor.StatusInactive); err != nil {
			return err
		}
	}
	l.logger.Info("plugin unloaded", "plugin", id)
	return nil
}

// Reload unloads and loads the plugin from its remembered unit, then
// initializes it again.
func (l *Loader) Reload(ctx context.Context, id string) error {
	l.mu.Lock()
	unit, ok := l.units[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotLoaded)
	}

	if err := l.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	if err := l.Load(ctx, unit); err != nil {
		return err
	}
	return l.Initialize(ctx, id)
}

// UnloadAll unloads every live instance.
func (l *Loader) UnloadAll(ctx context.Context) {
	for _, id := range l.Loaded() {
		if err := l.Unload(ctx, id); err != nil {
			l.logger.Warn("unload failed", "plugin", id, "error", err)
		}
	}
}

// Loaded returns the ids of all live instances.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.instances))
	for id := range l.instances {
		ids = append(ids, id)
	}
	return ids
}

// IsLoaded reports whether the plugin has a live instance.
func (l *Loader) IsLoaded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.instances[id]
	return ok
}

func (l *Loader) instance(id string) (descriptor.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	instance, ok := l.instances[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotLoaded)
	}
	return instance, nil
}

// vetSource runs the static safety scan over script sources. Compiled
// modules are vetted structurally by the engine instead.
func (l *Loader) vetSource(unit discovery.CandidateUnit) error {
	if unit.Kind != discovery.UnitLua {
		return nil
	}

	source, err := os.ReadFile(unit.SourcePath)
	if err != nil {
		return &LoadError{PluginID: unit.ID, Kind: FailureEngine, Err: err}
	}

	report := sandbox.CheckSource(string(source))
	for _, warning := range report.Warnings {
		l.logger.Warn("safety finding", "plugin", unit.ID, "finding", warning, "level", report.Level.String())
	}
	if !report.IsSafe {
		return &LoadError{
			PluginID: unit.ID,
			Kind:     FailureUnsafeCode,
			Warnings: report.Warnings,
			Err:      fmt.Errorf("risk level %s", report.Level),
		}
	}
	return nil
}

// buildGuard assembles the plugin's sandbox guard: global policies,
// plus whatever extra permissions the gatekeeper grants from the
// manifest's requests.
func (l *Loader) buildGuard(unit discovery.CandidateUnit) (*sandbox.Guard, error) {
	imports := l.config.ImportPolicy()
	paths := sandbox.PathPolicy{}
	env := sandbox.EnvPolicy{}

	if !l.config.Global.EnableSandboxing {
		imports.AllowAll = true
		paths.AllowAll = true
		env.AllowAll = true
	} else if requested := requestedGrants(unit.Manifest); !requested.IsEmpty() {
		granted, err := l.gatekeeper.Grant(unit.ID, requested, l.trustAll)
		if err != nil {
			return nil, &LoadError{PluginID: unit.ID, Kind: FailureEngine, Err: err}
		}
		imports = imports.Extend(granted.Imports)
		paths.Roots = granted.Paths
		env.Allow = granted.Env
	}

	return &sandbox.Guard{
		PluginID: unit.ID,
		Budget:   l.config.BudgetFor(unit.ID),
		Imports:  imports,
		Paths:    paths,
		Env:      env,
		Logger:   l.logger,
	}, nil
}

func requestedGrants(m *manifest.Manifest) grants.GrantSet {
	if m == nil {
		return grants.GrantSet{}
	}
	return grants.GrantSet{
		Imports: m.Requests.Imports,
		Paths:   m.Requests.Paths,
		Env:     m.Requests.Env,
	}
}

// describe builds the registry descriptor: manifest identity when
// declared, filled from the plugin's self-reported info.
func (l *Loader) describe(ctx context.Context, unit discovery.CandidateUnit, instance descriptor.Instance) (*descriptor.Descriptor, error) {
	var d *descriptor.Descriptor
	if unit.FromManifest() {
		d = unit.Manifest.ToDescriptor(unit.SourcePath)
	} else {
		d = &descriptor.Descriptor{ID: unit.ID, SourcePath: unit.SourcePath}
	}

	info, err := instance.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying plugin info: %w", err)
	}
	mergeInfo(d, info)

	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Version == "" {
		d.Version = "0.0.0"
	}
	return d, nil
}

// mergeInfo fills descriptor blanks from self-reported info. Manifest
// declarations win; the plugin cannot override a declared identity.
func mergeInfo(d *descriptor.Descriptor, info *descriptor.Descriptor) {
	if info == nil {
		return
	}
	if d.Name == "" {
		d.Name = info.Name
	}
	if d.Version == "" {
		d.Version = info.Version
	}
	if d.Description == "" {
		d.Description = info.Description
	}
	if d.Author == "" {
		d.Author = info.Author
	}
	if !d.Capability.Valid() && info.Capability.Valid() {
		d.Capability = info.Capability
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = info.Dependencies
	}
	if d.ConfigSchema == nil {
		d.ConfigSchema = info.ConfigSchema
	}
}

// registerUnit records a unit in the registry with the given status so
// refusals and disables stay visible. Best effort.
func (l *Loader) registerUnit(unit discovery.CandidateUnit, status descriptor.Status) {
	var d *descriptor.Descriptor
	if unit.FromManifest() {
		d = unit.Manifest.ToDescriptor(unit.SourcePath)
	} else {
		d = &descriptor.Descriptor{ID: unit.ID, Name: unit.ID, Version: "0.0.0", SourcePath: unit.SourcePath}
	}
	d.Status = status
	if err := l.registry.Register(d); err != nil {
		l.logger.Warn("failed to register plugin state", "plugin", unit.ID, "status", status, "error", err)
	}
}
