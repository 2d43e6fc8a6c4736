package registry

import (
	"sort"

	"github.com/cutpoint/pluginhost/descriptor"
)

// visit marks for the depth-first topological sort.
type visitMark int

const (
	unvisited visitMark = iota
	inProgress
	done
)

// LoadOrder computes a dependency-ordered load sequence over the given
// id set, or over the whole registry when ids is empty. For every edge
// "a depends on b" with both ends in the set, b precedes a.
//
// Cycles are reported as warnings and the sort proceeds best-effort:
// every participant still appears in the result exactly once, and the
// sort always terminates. Dependencies outside the id set, including
// ids not registered at all, do not force visits.
//
// Ties between independent plugins follow the order of the input id
// list; when ids is empty the registry's sorted id order is used.
func (r *Registry) LoadOrder(ids ...string) ([]string, []*CycleWarning) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		for id := range r.descriptors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	marks := make(map[string]visitMark, len(ids))
	order := make([]string, 0, len(ids))
	var warnings []*CycleWarning
	var path []string

	var visit func(id string)
	visit = func(id string) {
		switch marks[id] {
		case done:
			return
		case inProgress:
			warnings = append(warnings, &CycleWarning{Participants: cyclePath(path, id)})
			r.logger.Warn("dependency cycle detected, continuing best-effort", "plugin", id)
			return
		}

		marks[id] = inProgress
		path = append(path, id)

		if d, ok := r.descriptors[id]; ok {
			for _, dep := range d.Dependencies {
				if inSet[dep.ID] {
					visit(dep.ID)
				}
			}
		}

		path = path[:len(path)-1]
		marks[id] = done
		order = append(order, id)
	}

	for _, id := range ids {
		visit(id)
	}
	return order, warnings
}

// cyclePath extracts the cycle segment of the visit path starting at
// the repeated id.
func cyclePath(path []string, repeated string) []string {
	for i, id := range path {
		if id == repeated {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, repeated)
		}
	}
	return []string{repeated}
}

// ValidateDependencies returns the declared dependencies of id that are
// not currently registered. Registration is the only criterion: an
// existing but inactive dependency counts as satisfied.
//
// When requireActive is set, dependencies that are registered but not
// Active are also reported as missing. This is the stricter policy
// knob; the default mirrors registration-only semantics.
func (r *Registry) ValidateDependencies(id string, requireActive bool) (bool, []string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return false, nil, &descriptor.NotFoundError{ID: id}
	}

	var missing []string
	for _, dep := range d.Dependencies {
		target, ok := r.descriptors[dep.ID]
		if !ok {
			missing = append(missing, dep.ID)
			continue
		}
		if requireActive && target.Status != descriptor.StatusActive {
			missing = append(missing, dep.ID)
		}
	}
	return len(missing) == 0, missing, nil
}

// CheckVersionConstraints verifies that every registered dependency of
// id satisfies its declared semver constraint. Unregistered
// dependencies are skipped; ValidateDependencies owns that failure.
func (r *Registry) CheckVersionConstraints(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return &descriptor.NotFoundError{ID: id}
	}

	for _, dep := range d.Dependencies {
		target, ok := r.descriptors[dep.ID]
		if !ok || dep.Version == "" {
			continue
		}
		constraint, err := dep.Constraint()
		if err != nil {
			return err
		}
		v, err := target.SemVersion()
		if err != nil {
			return err
		}
		if !constraint.Check(v) {
			return &VersionConflictError{
				Dependent:  id,
				Dependency: dep.ID,
				Constraint: dep.Version,
				Actual:     target.Version,
			}
		}
	}
	return nil
}
