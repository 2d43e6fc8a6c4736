// Package lua executes Lua source plugins with gopher-lua.
//
// Scripts run in a restricted state: only policy-allowed standard
// libraries are opened, require is replaced with a policy-checked
// version, and file access goes through the sandbox path policy. A
// script declares itself by calling pluginhost.register with a table of
// lifecycle and operation functions.
package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	"github.com/cutpoint/pluginhost/sandbox"
)

// ErrNotRegistered is returned when a script finishes without calling
// pluginhost.register.
var ErrNotRegistered = errors.New("script did not register a plugin")

// hostTableName is the global table scripts use to talk to the host.
const hostTableName = "pluginhost"

// stdlibOpeners maps policy module names to their gopher-lua openers.
// Base is always opened; these are gated by the import policy.
var stdlibOpeners = map[string]lua.LGFunction{
	"string":    lua.OpenString,
	"table":     lua.OpenTable,
	"math":      lua.OpenMath,
	"coroutine": lua.OpenCoroutine,
}

// Engine executes Lua source plugins.
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

// NewEngine creates the Lua engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind reports the unit kind this engine executes.
func (e *Engine) Kind() discovery.UnitKind { return discovery.UnitLua }

// Load runs the script in a restricted state and captures its
// registration. Script execution happens inside a sandbox session so
// the budget deadline applies to top-level code too.
func (e *Engine) Load(ctx context.Context, unit discovery.CandidateUnit, guard *sandbox.Guard) (descriptor.Instance, error) {
	if _, err := os.Stat(unit.SourcePath); err != nil {
		return nil, fmt.Errorf("reading script %q: %w", unit.SourcePath, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	inst := &Instance{unit: unit, state: L, guard: guard, logger: e.logger}

	e.openLibraries(L, guard)
	e.installRequire(L, guard)
	e.installHostTable(L, inst)
	if guard.Paths.AllowsAnything() {
		installGuardedIO(L, guard)
	}

	err := guard.NewSession().Run(ctx, func(runCtx context.Context) error {
		L.SetContext(runCtx)
		defer L.RemoveContext()
		return runProtected(L, unit.SourcePath)
	})
	if err != nil {
		L.Close()
		return nil, err
	}
	if inst.registered == nil {
		L.Close()
		return nil, fmt.Errorf("plugin %q: %w", unit.ID, ErrNotRegistered)
	}
	return inst, nil
}

func runProtected(L *lua.LState, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return L.DoFile(path)
}

// openLibraries opens base plus every standard library the import
// policy allows. Libraries the policy denies are simply absent.
func (e *Engine) openLibraries(L *lua.LState, guard *sandbox.Guard) {
	lua.OpenBase(L)

	// Loader bypasses must not survive even in base.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	for name, opener := range stdlibOpeners {
		if ok, _ := guard.Imports.Allowed(name); ok {
			opener(L)
		}
	}
	if ok, _ := guard.Imports.Allowed("os"); ok {
		installLimitedOS(L, guard)
	}
}

// installRequire replaces require with a policy-checked version that
// only hands out libraries the state already holds. Nothing is ever
// loaded from disk.
func (e *Engine) installRequire(L *lua.LState, guard *sandbox.Guard) {
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if modName == hostTableName || modName == "host" {
			L.Push(L.GetGlobal(hostTableName))
			return 1
		}
		if err := guard.CheckImport(modName); err != nil {
			L.RaiseError("module %q is not available: %s", modName, err.Error())
			return 0
		}
		mod := L.GetGlobal(modName)
		if mod == lua.LNil {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(mod)
		return 1
	}))
}

// installHostTable publishes the pluginhost global: register captures
// the plugin's function table, log bridges onto the host logger.
func (e *Engine) installHostTable(L *lua.LState, inst *Instance) {
	host := L.NewTable()

	L.SetField(host, "register", L.NewFunction(func(L *lua.LState) int {
		inst.registered = L.CheckTable(1)
		return 0
	}))

	L.SetField(host, "log", L.NewFunction(func(L *lua.LState) int {
		levelName := L.CheckString(1)
		message := L.CheckString(2)

		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(levelName)); err != nil {
			level = slog.LevelInfo
		}
		e.logger.Log(context.Background(), level, message, "plugin", inst.unit.ID)
		return 0
	}))

	L.SetGlobal(hostTableName, host)
}

// installLimitedOS publishes a reduced os table. Process control and
// shell execution are never exposed, whatever the policy says, and
// getenv only serves variables the env policy grants.
func installLimitedOS(L *lua.LState, guard *sandbox.Guard) {
	osMod := L.NewTable()

	L.SetField(osMod, "time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.SetField(osMod, "clock", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixNano()) / 1e9))
		return 1
	}))
	L.SetField(osMod, "date", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(time.Now().Format(time.RFC3339)))
		return 1
	}))
	L.SetField(osMod, "getenv", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if err := guard.CheckEnv(name); err != nil {
			// Denied variables look unset; the denial is reported to
			// the handler either way.
			L.Push(lua.LNil)
			return 1
		}
		value, ok := os.LookupEnv(name)
		if !ok {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(value))
		}
		return 1
	}))

	L.SetGlobal("os", osMod)
}
