// Package host assembles the plugin runtime: configuration, discovery,
// registry, engines, permission gatekeeping, and the loader, behind one
// Manager facade.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cutpoint/pluginhost/config"
	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	luaengine "github.com/cutpoint/pluginhost/engine/lua"
	"github.com/cutpoint/pluginhost/engine/wasm"
	"github.com/cutpoint/pluginhost/grants"
	"github.com/cutpoint/pluginhost/loader"
	"github.com/cutpoint/pluginhost/registry"
)

// Manager is the host-facing entry point to the plugin runtime.
type Manager struct {
	cfg        *config.Config
	configPath string
	registry   *registry.Registry
	scanner    *discovery.Scanner
	cache      *discovery.Cache
	watcher    *discovery.Watcher
	loader     *loader.Loader
	logger     *slog.Logger

	trustAll      bool
	securityLevel grants.SecurityLevel
	grantStore    grants.Store
	prompter      grants.Prompter
	catalogPath   string
	cachePath     string
	searchPaths   []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig supplies an in-memory configuration.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithConfigPath loads configuration from, and saves it back to, the
// given file.
func WithConfigPath(path string) Option {
	return func(m *Manager) { m.configPath = path }
}

// WithCatalogPath persists the registry catalog at the given file.
func WithCatalogPath(path string) Option {
	return func(m *Manager) { m.catalogPath = path }
}

// WithCachePath persists the discovery cache at the given file.
func WithCachePath(path string) Option {
	return func(m *Manager) { m.cachePath = path }
}

// WithSearchPaths adds plugin search paths beyond the configured ones.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) { m.searchPaths = append(m.searchPaths, paths...) }
}

// WithTrustAll auto-grants all plugin permission requests.
func WithTrustAll(trust bool) Option {
	return func(m *Manager) { m.trustAll = trust }
}

// WithSecurityLevel sets the permission-prompting policy.
func WithSecurityLevel(level grants.SecurityLevel) Option {
	return func(m *Manager) { m.securityLevel = level }
}

// WithGrantStore sets the permission grant store.
func WithGrantStore(s grants.Store) Option {
	return func(m *Manager) { m.grantStore = s }
}

// WithPrompter sets the permission prompter.
func WithPrompter(p grants.Prompter) Option {
	return func(m *Manager) { m.prompter = p }
}

// WithLogger sets the manager logger, shared with every component.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New assembles the runtime.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:        slog.Default(),
		securityLevel: grants.SecurityStandard,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cfg == nil {
		if m.configPath != "" {
			cfg, err := config.Load(m.configPath)
			if err != nil {
				return nil, err
			}
			m.cfg = cfg
		} else {
			m.cfg = config.Default()
		}
	}

	var regOpts []registry.Option
	if m.catalogPath != "" {
		regOpts = append(regOpts, registry.WithCatalogPath(m.catalogPath))
	}
	regOpts = append(regOpts, registry.WithLogger(m.logger))
	reg, err := registry.New(regOpts...)
	if err != nil {
		return nil, err
	}
	m.registry = reg

	cacheOpts := []discovery.CacheOption{}
	if m.cachePath != "" {
		cacheOpts = append(cacheOpts, discovery.WithPersistence(m.cachePath))
	}
	cache, err := discovery.NewCache(cacheOpts...)
	if err != nil {
		return nil, err
	}
	m.cache = cache

	paths := append([]string(nil), m.cfg.Global.PluginDirectories...)
	paths = append(paths, m.searchPaths...)
	m.scanner = discovery.NewScanner(paths,
		discovery.WithCache(cache),
		discovery.WithScannerLogger(m.logger))

	gkOpts := []grants.Option{
		grants.WithSecurityLevel(m.securityLevel),
		grants.WithLogger(m.logger),
	}
	if m.grantStore != nil {
		gkOpts = append(gkOpts, grants.WithStore(m.grantStore))
	}
	if m.prompter != nil {
		gkOpts = append(gkOpts, grants.WithPrompter(m.prompter))
	}

	engines := engine.NewRegistry(
		wasm.NewEngine(wasm.WithLogger(m.logger)),
		luaengine.NewEngine(luaengine.WithLogger(m.logger)),
	)
	m.loader = loader.New(engines, reg, m.cfg,
		loader.WithGatekeeper(grants.NewGatekeeper(gkOpts...)),
		loader.WithTrustAll(m.trustAll),
		loader.WithLogger(m.logger))

	return m, nil
}

// Config returns the live configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// Registry returns the descriptor catalog.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Discover scans the search paths for candidate plugin units.
func (m *Manager) Discover(ctx context.Context, forceRefresh bool) ([]discovery.CandidateUnit, error) {
	return m.scanner.Discover(ctx, forceRefresh)
}

// AutoDiscoverAndLoad discovers, loads, and initializes everything in
// dependency order. Individual failures are collected in the result,
// never fatal to the batch.
func (m *Manager) AutoDiscoverAndLoad(ctx context.Context) (*loader.Result, error) {
	units, err := m.Discover(ctx, false)
	if err != nil {
		return nil, err
	}
	return m.loader.LoadAll(ctx, units), nil
}

// LoadPlugin discovers the named candidate, loads it, and initializes
// it.
func (m *Manager) LoadPlugin(ctx context.Context, id string) error {
	units, err := m.Discover(ctx, false)
	if err != nil {
		return err
	}
	for _, unit := range units {
		if unit.ID == id {
			if err := m.loader.Load(ctx, unit); err != nil {
				return err
			}
			return m.loader.Initialize(ctx, id)
		}
	}
	return &descriptor.NotFoundError{ID: id}
}

// UnloadPlugin unloads the named plugin. When no live instance exists
// it returns loader.ErrNotLoaded.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	return m.loader.Unload(ctx, id)
}

// ReloadPlugin reloads the named plugin from disk.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	return m.loader.Reload(ctx, id)
}

// ActivatePlugin re-enables an inactive plugin.
func (m *Manager) ActivatePlugin(id string) error {
	return m.loader.Activate(id)
}

// DeactivatePlugin suspends an active plugin without unloading.
func (m *Manager) DeactivatePlugin(id string) error {
	return m.loader.Deactivate(id)
}

// Invoke calls the plugin's capability operation with a JSON payload.
func (m *Manager) Invoke(ctx context.Context, id string, input []byte) ([]byte, error) {
	return m.loader.Invoke(ctx, id, input)
}

// EnablePlugin records an enable override and persists configuration
// when a config path is set.
func (m *Manager) EnablePlugin(id string) error {
	m.cfg.SetPluginEnabled(id, true)
	return m.saveConfig()
}

// DisablePlugin unloads the plugin, records a disable override, and
// marks it Disabled in the catalog.
func (m *Manager) DisablePlugin(ctx context.Context, id string) error {
	if err := m.loader.Unload(ctx, id); err != nil && !errors.Is(err, loader.ErrNotLoaded) {
		return err
	}
	m.cfg.SetPluginEnabled(id, false)
	if m.registry.Has(id) {
		if err := m.registry.SetStatus(id, descriptor.StatusDisabled); err != nil {
			return err
		}
	}
	return m.saveConfig()
}

// ListPlugins returns every cataloged descriptor.
func (m *Manager) ListPlugins() []*descriptor.Descriptor {
	return m.registry.All()
}

// GetPlugin returns the descriptor for id.
func (m *Manager) GetPlugin(id string) (*descriptor.Descriptor, error) {
	return m.registry.Get(id)
}

// SearchPlugins finds descriptors matching the query.
func (m *Manager) SearchPlugins(query string) []*descriptor.Descriptor {
	return m.registry.Search(query)
}

// FindByCapability returns descriptors declaring the capability.
func (m *Manager) FindByCapability(c descriptor.Capability) []*descriptor.Descriptor {
	return m.registry.FindByCapability(c)
}

// CapabilitySchema returns the JSON Schema for the builtin parameter
// payload of the capability's operation.
func (m *Manager) CapabilitySchema(c descriptor.Capability) (map[string]any, error) {
	return config.CapabilitySchema(c)
}

// ExportCatalog writes the catalog document to a JSON file.
func (m *Manager) ExportCatalog(path string) error {
	cat := m.registry.Export()
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog export: %w", err)
	}
	return nil
}

// ImportCatalog merges a catalog document from a JSON file.
func (m *Manager) ImportCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog import: %w", err)
	}
	var cat registry.Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parsing catalog import: %w", err)
	}
	return m.registry.Import(&cat)
}

// Watch invalidates the discovery cache when plugin directories change.
// It runs until the context is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	paths := append([]string(nil), m.cfg.Global.PluginDirectories...)
	paths = append(paths, m.searchPaths...)

	watcher, err := discovery.NewWatcher(paths, m.cache,
		discovery.WithWatcherLogger(m.logger))
	if err != nil {
		return err
	}
	m.watcher = watcher

	go watcher.Run(ctx)
	return nil
}

// Shutdown unloads every plugin and releases runtime resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.loader.UnloadAll(ctx)
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) saveConfig() error {
	if m.configPath == "" {
		return nil
	}
	return config.Save(m.cfg, m.configPath)
}
