package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/sandbox"
)

// Instance is a live Lua plugin. The underlying state is not
// goroutine-safe, so all calls serialize on a mutex. Every call runs
// inside a fresh sandbox session with the state's context set to the
// session deadline.
type Instance struct {
	unit       discovery.CandidateUnit
	state      *lua.LState
	registered *lua.LTable
	guard      *sandbox.Guard
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ descriptor.Instance = (*Instance)(nil)

// Info returns the plugin's self-reported metadata from its get_info
// function. Without one, the manifest or file name already provided
// identity, so a minimal descriptor is returned.
func (i *Instance) Info(ctx context.Context) (*descriptor.Descriptor, error) {
	fn := i.fieldFunction("get_info")
	if fn == nil {
		return &descriptor.Descriptor{ID: i.unit.ID, SourcePath: i.unit.SourcePath}, nil
	}

	var out any
	err := i.guardedCall(ctx, func() error {
		results, err := i.call(fn, 1)
		if err != nil {
			return err
		}
		out = toGo(results[0])
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding plugin info from %q: %w", i.unit.ID, err)
	}
	var d descriptor.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding plugin info from %q: %w", i.unit.ID, err)
	}
	if d.ID == "" {
		d.ID = i.unit.ID
	}
	d.SourcePath = i.unit.SourcePath
	return &d, nil
}

// Initialize calls the plugin's initialize function with the merged
// configuration. A plugin without one initializes trivially.
func (i *Instance) Initialize(ctx context.Context, config map[string]any) (bool, error) {
	fn := i.fieldFunction("initialize")
	if fn == nil {
		return true, nil
	}

	ok := true
	err := i.guardedCall(ctx, func() error {
		arg := toLua(i.state, normalizeConfig(config))
		results, err := i.call(fn, 1, arg)
		if err != nil {
			return err
		}
		// nil or no return counts as success; only an explicit false fails.
		if len(results) > 0 && results[0] == lua.LFalse {
			ok = false
		}
		return nil
	})
	return ok && err == nil, err
}

// Invoke calls the operation function named op with a JSON payload and
// returns the JSON-encoded result.
func (i *Instance) Invoke(ctx context.Context, op string, input []byte) ([]byte, error) {
	fn := i.fieldFunction(op)
	if fn == nil {
		return nil, fmt.Errorf("plugin %q does not implement %q", i.unit.ID, op)
	}

	var arg any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &arg); err != nil {
			return nil, fmt.Errorf("decoding input for %q: %w", op, err)
		}
	}

	var out any
	err := i.guardedCall(ctx, func() error {
		results, err := i.call(fn, 1, toLua(i.state, arg))
		if err != nil {
			return err
		}
		out = toGo(results[0])
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding result of %q: %w", op, err)
	}
	return data, nil
}

// Cleanup calls the plugin's cleanup function if it has one.
func (i *Instance) Cleanup(ctx context.Context) (bool, error) {
	fn := i.fieldFunction("cleanup")
	if fn == nil {
		return true, nil
	}

	ok := true
	err := i.guardedCall(ctx, func() error {
		results, err := i.call(fn, 1)
		if err != nil {
			return err
		}
		if len(results) > 0 && results[0] == lua.LFalse {
			ok = false
		}
		return nil
	})
	return ok && err == nil, err
}

// Close shuts the Lua state down. Idempotent.
func (i *Instance) Close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.state.Close()
		i.closed = true
	}
	return nil
}

// guardedCall serializes on the state mutex, mints a session, and runs
// body with the state's context bound to the session deadline.
func (i *Instance) guardedCall(ctx context.Context, body func() error) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("plugin %q: instance is closed", i.unit.ID)
	}

	return i.guard.NewSession().Run(ctx, func(runCtx context.Context) error {
		i.state.SetContext(runCtx)
		defer i.state.RemoveContext()
		return i.protect(body)
	})
}

func (i *Instance) protect(body func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return body()
}

// call invokes fn with nret expected results.
func (i *Instance) call(fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	top := i.state.GetTop()
	if err := i.state.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return nil, err
	}

	n := i.state.GetTop() - top
	results := make([]lua.LValue, n)
	for idx := range n {
		results[idx] = i.state.Get(top + idx + 1)
	}
	i.state.Pop(n)
	return results, nil
}

func (i *Instance) fieldFunction(name string) *lua.LFunction {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.registered == nil {
		return nil
	}
	if fn, ok := i.state.GetField(i.registered, name).(*lua.LFunction); ok {
		return fn
	}
	return nil
}

// normalizeConfig round-trips the config through JSON so nested values
// take the generic shapes the bridge expects.
func normalizeConfig(config map[string]any) any {
	if config == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return config
	}
	return out
}
