// Package engine defines the execution-engine contract. An engine turns
// a discovered candidate unit into a live plugin instance running under
// a sandbox guard. Two engines exist: compiled WebAssembly modules and
// Lua sources.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/sandbox"
)

// ErrUnsupportedUnit is returned when no engine handles a candidate's
// unit kind.
var ErrUnsupportedUnit = errors.New("unsupported plugin unit kind")

// Engine loads candidate units of one kind.
type Engine interface {
	// Kind reports which candidate units the engine executes.
	Kind() discovery.UnitKind

	// Load turns a candidate into a live instance guarded by guard.
	// The instance owns engine resources until Close.
	Load(ctx context.Context, unit discovery.CandidateUnit, guard *sandbox.Guard) (descriptor.Instance, error)
}

// Registry routes candidates to the engine for their kind.
type Registry struct {
	engines map[discovery.UnitKind]Engine
}

// NewRegistry builds an engine registry. Later engines of the same kind
// replace earlier ones.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[discovery.UnitKind]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Kind()] = e
	}
	return r
}

// For returns the engine handling the given unit kind.
func (r *Registry) For(kind discovery.UnitKind) (Engine, error) {
	e, ok := r.engines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedUnit, kind)
	}
	return e, nil
}
