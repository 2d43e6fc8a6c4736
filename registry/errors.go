package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected marks a dependency cycle found during load ordering.
// Per policy, cycles are reported as warnings and the sort proceeds
// best-effort; this error only appears inside CycleWarning records.
var ErrCycleDetected = errors.New("dependency cycle detected")

// CycleWarning records one dependency cycle encountered during a sort.
type CycleWarning struct {
	// Participants holds the ids on the cycle path, in visit order.
	Participants []string
}

func (w *CycleWarning) Error() string {
	return fmt.Sprintf("dependency cycle involving %s", strings.Join(w.Participants, " -> "))
}

// Is allows errors.Is(err, registry.ErrCycleDetected).
func (w *CycleWarning) Is(target error) bool {
	return target == ErrCycleDetected
}

// ErrVersionConflict marks a dependency whose registered version does
// not satisfy the dependent's declared constraint.
var ErrVersionConflict = errors.New("dependency version conflict")

// VersionConflictError reports a failed semver constraint check.
type VersionConflictError struct {
	Dependent  string
	Dependency string
	Constraint string
	Actual     string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("plugin %s requires %s %s, registered version is %s",
		e.Dependent, e.Dependency, e.Constraint, e.Actual)
}

// Is allows errors.Is(err, registry.ErrVersionConflict).
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
