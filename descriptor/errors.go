package descriptor

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure patterns. These support both
// errors.Is() checks and errors.As() for detailed information.
var (
	// ErrNotFound is returned when a plugin id is not in the registry.
	ErrNotFound = errors.New("plugin not found")

	// ErrUnknownCapability is returned for a capability outside the closed set.
	ErrUnknownCapability = errors.New("unknown capability")
)

// NotFoundError indicates a plugin id does not exist in the registry.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin not found: %s", e.ID)
}

// Is allows errors.Is(err, descriptor.ErrNotFound).
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
