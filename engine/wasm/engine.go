package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	"github.com/cutpoint/pluginhost/sandbox"
)

// hostProvidedModules are import module names satisfied by the host
// itself. They are exempt from the plugin's import policy.
var hostProvidedModules = map[string]bool{
	wasi_snapshot_preview1.ModuleName: true,
	HostModule:                        true,
}

// Engine executes compiled WebAssembly plugin modules.
//
// Every instance gets its own wazero runtime because the linear-memory
// page limit is runtime configuration and budgets differ per plugin.
type Engine struct {
	logger *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates the WebAssembly engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind reports the unit kind this engine executes.
func (e *Engine) Kind() discovery.UnitKind { return discovery.UnitWASM }

// Load compiles and instantiates a WebAssembly plugin module.
//
// The guard's budget caps linear memory, its import policy is checked
// against the module's declared imports before instantiation, and its
// path policy becomes the module's preopened filesystem. Deadline
// enforcement relies on wazero's close-on-context-done so a running
// guest is actually interrupted when a session times out.
func (e *Engine) Load(ctx context.Context, unit discovery.CandidateUnit, guard *sandbox.Guard) (descriptor.Instance, error) {
	wasmBytes, err := os.ReadFile(unit.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("reading module %q: %w", unit.SourcePath, err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if pages := guard.Budget.MemoryPages(); pages > 0 {
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(pages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	instance, err := e.instantiate(ctx, runtime, unit, guard, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	return instance, nil
}

func (e *Engine) instantiate(ctx context.Context, runtime wazero.Runtime, unit discovery.CandidateUnit, guard *sandbox.Guard, wasmBytes []byte) (*Instance, error) {
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)
	if err := e.registerHostFunctions(ctx, runtime, unit.ID); err != nil {
		return nil, fmt.Errorf("registering host functions: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compiling module %q: %w", unit.ID, err)
	}

	if err := checkImports(compiled, guard); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(unit.ID).
		WithStartFunctions(). // lifecycle is explicit, no _start
		WithFSConfig(fsConfig(guard.Paths))

	module, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiating module %q: %w", unit.ID, err)
	}

	if start := module.ExportedFunction(exportStart); start != nil {
		if _, err := start.Call(ctx); err != nil {
			_ = module.Close(ctx)
			return nil, fmt.Errorf("module %q start: %w", unit.ID, err)
		}
	}

	return &Instance{
		unit:    unit,
		runtime: runtime,
		module:  module,
		guard:   guard,
		logger:  e.logger,
	}, nil
}

func (e *Engine) registerHostFunctions(ctx context.Context, runtime wazero.Runtime, pluginID string) error {
	_, err := runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(logMessageFunc(e.logger, pluginID),
			[]api.ValueType{api.ValueTypeI64}, nil).
		Export("log_message").
		Instantiate(ctx)
	return err
}

// checkImports verifies every non-host import module against the
// plugin's import policy before any guest code runs.
func checkImports(compiled wazero.CompiledModule, guard *sandbox.Guard) error {
	seen := make(map[string]bool)
	for _, def := range compiled.ImportedFunctions() {
		moduleName, _, ok := def.Import()
		if !ok || hostProvidedModules[moduleName] || seen[moduleName] {
			continue
		}
		seen[moduleName] = true
		if err := guard.CheckImport(moduleName); err != nil {
			return err
		}
	}
	return nil
}

// fsConfig mounts each allowed root read-write at its own path. With no
// roots the guest sees an empty filesystem.
func fsConfig(paths sandbox.PathPolicy) wazero.FSConfig {
	cfg := wazero.NewFSConfig()
	for _, root := range paths.Roots {
		cfg = cfg.WithDirMount(root, root)
	}
	return cfg
}
