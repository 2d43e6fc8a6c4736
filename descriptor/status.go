package descriptor

// Status tracks a plugin through its lifecycle.
//
// Transitions: Unknown -> Loaded -> Active <-> Inactive, with Error
// reachable from load or initialize attempts and Disabled reachable
// from any state via configuration.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusLoaded   Status = "loaded"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Statuses returns all lifecycle states.
func Statuses() []Status {
	return []Status{
		StatusUnknown,
		StatusLoaded,
		StatusActive,
		StatusInactive,
		StatusError,
		StatusDisabled,
	}
}

func (s Status) String() string {
	return string(s)
}
