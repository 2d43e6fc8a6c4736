package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/sandbox"
)

// Instance is a live WebAssembly plugin module.
//
// Calls are serialized by the loader; the instance itself performs no
// locking. Every lifecycle and operation call runs inside a fresh
// sandbox session so the budget deadline applies per call.
type Instance struct {
	unit    discovery.CandidateUnit
	runtime wazero.Runtime
	module  api.Module
	guard   *sandbox.Guard
	logger  *slog.Logger
}

var _ descriptor.Instance = (*Instance)(nil)

// Info asks the guest for its self-reported metadata.
func (i *Instance) Info(ctx context.Context) (*descriptor.Descriptor, error) {
	out, err := i.guardedCall(ctx, exportInfo, nil)
	if err != nil {
		return nil, err
	}

	var d descriptor.Descriptor
	if err := json.Unmarshal(out, &d); err != nil {
		return nil, fmt.Errorf("decoding plugin info from %q: %w", i.unit.ID, err)
	}
	d.SourcePath = i.unit.SourcePath
	return &d, nil
}

// Initialize passes the merged configuration to the guest.
func (i *Instance) Initialize(ctx context.Context, config map[string]any) (bool, error) {
	input, err := json.Marshal(config)
	if err != nil {
		return false, fmt.Errorf("encoding config for %q: %w", i.unit.ID, err)
	}
	return i.lifecycleCall(ctx, exportInitialize, input)
}

// Invoke calls the capability operation export named op.
func (i *Instance) Invoke(ctx context.Context, op string, input []byte) ([]byte, error) {
	return i.guardedCall(ctx, op, input)
}

// Cleanup asks the guest to release its resources.
func (i *Instance) Cleanup(ctx context.Context) (bool, error) {
	// A guest without a cleanup export has nothing to release.
	if i.module.ExportedFunction(exportCleanup) == nil {
		return true, nil
	}
	return i.lifecycleCall(ctx, exportCleanup, nil)
}

// Close tears down the module and its runtime.
func (i *Instance) Close(ctx context.Context) error {
	if err := i.module.Close(ctx); err != nil {
		_ = i.runtime.Close(ctx)
		return fmt.Errorf("closing module %q: %w", i.unit.ID, err)
	}
	return i.runtime.Close(ctx)
}

func (i *Instance) lifecycleCall(ctx context.Context, name string, input []byte) (bool, error) {
	out, err := i.guardedCall(ctx, name, input)
	if err != nil {
		return false, err
	}

	var result lifecycleResult
	if err := json.Unmarshal(out, &result); err != nil {
		return false, fmt.Errorf("decoding %s result from %q: %w", name, i.unit.ID, err)
	}
	if !result.OK && result.Error != "" {
		return false, fmt.Errorf("plugin %q %s: %s", i.unit.ID, name, result.Error)
	}
	return result.OK, nil
}

// guardedCall runs one guest export inside a fresh sandbox session and
// returns a copy of the JSON result bytes.
func (i *Instance) guardedCall(ctx context.Context, name string, input []byte) ([]byte, error) {
	var out []byte
	err := i.guard.NewSession().Run(ctx, func(runCtx context.Context) error {
		packed, err := i.callPacked(runCtx, name, input)
		if err != nil {
			return err
		}
		out, err = i.readPacked(packed)
		return err
	})
	return out, err
}

func (i *Instance) callPacked(ctx context.Context, name string, input []byte) (uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("plugin %q does not export %q", i.unit.ID, name)
	}

	var packedInput uint64
	if len(input) > 0 {
		ptr, err := i.writeGuestBytes(ctx, input)
		if err != nil {
			return 0, err
		}
		packedInput = PackPtrLen(ptr, uint32(len(input)))
	}

	results, err := fn.Call(ctx, packedInput)
	if err != nil {
		return 0, fmt.Errorf("plugin %q call %q: %w", i.unit.ID, name, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// writeGuestBytes places input into guest memory via the allocate
// export and returns the guest pointer.
func (i *Instance) writeGuestBytes(ctx context.Context, input []byte) (uint32, error) {
	allocate := i.module.ExportedFunction(exportAllocate)
	if allocate == nil {
		return 0, fmt.Errorf("plugin %q does not export %q", i.unit.ID, exportAllocate)
	}

	results, err := allocate.Call(ctx, uint64(len(input)))
	if err != nil {
		return 0, fmt.Errorf("plugin %q allocate: %w", i.unit.ID, err)
	}

	ptr := uint32(results[0])
	if !i.module.Memory().Write(ptr, input) {
		return 0, fmt.Errorf("plugin %q: failed to write %d bytes at %d", i.unit.ID, len(input), ptr)
	}
	return ptr, nil
}

// readPacked copies the result bytes out of guest memory. The copy
// matters: guest memory may move or be reused after the call returns.
func (i *Instance) readPacked(packed uint64) ([]byte, error) {
	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}

	data, ok := i.module.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("plugin %q: failed to read %d bytes at %d", i.unit.ID, length, ptr)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}
