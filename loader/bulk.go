package loader

import (
	"context"

	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/registry"
)

// Result reports the outcome of a bulk load: which plugins made it to
// Active, per-plugin failures, and any dependency-cycle warnings.
// A failure never aborts the batch; independent plugins proceed.
type Result struct {
	Order         []string
	Active        []string
	Failures      map[string]error
	CycleWarnings []*registry.CycleWarning
}

// Failed reports whether any plugin in the batch failed.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// LoadAll loads every candidate and initializes the loaded ones in
// dependency order.
//
// Loading is fail-forward: a candidate that fails to load is recorded
// and the rest proceed. Initialization order comes from the registry's
// topological sort over the successfully loaded set; cycles are warned
// about and the participants still initialize best-effort. A plugin
// whose own initialize fails ends in Error; its dependents are still
// attempted, and the strict-dependency knob decides whether they then
// fail their dependency check.
func (l *Loader) LoadAll(ctx context.Context, units []discovery.CandidateUnit) *Result {
	result := &Result{Failures: make(map[string]error)}

	var loaded []string
	for _, unit := range units {
		if err := l.Load(ctx, unit); err != nil {
			result.Failures[unit.ID] = err
			l.logger.Warn("load failed, continuing", "plugin", unit.ID, "error", err)
			continue
		}
		loaded = append(loaded, unit.ID)
	}

	order, warnings := l.registry.LoadOrder(loaded...)
	result.Order = order
	result.CycleWarnings = warnings

	for _, id := range order {
		if !l.IsLoaded(id) {
			continue
		}
		if err := l.Initialize(ctx, id); err != nil {
			result.Failures[id] = err
			l.logger.Warn("initialize failed, continuing", "plugin", id, "error", err)
			continue
		}
		result.Active = append(result.Active, id)
	}
	return result
}
