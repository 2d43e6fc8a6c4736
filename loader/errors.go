package loader

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for loader state checks.
var (
	// ErrLoadFailed is the base of every LoadError.
	ErrLoadFailed = errors.New("plugin load failed")
	// ErrInitFailed is the base of every InitError.
	ErrInitFailed = errors.New("plugin initialize failed")
	// ErrPluginDisabled is returned when configuration disables the plugin.
	ErrPluginDisabled = errors.New("plugin is disabled by configuration")
	// ErrNotLoaded is returned for operations that need a live instance.
	ErrNotLoaded = errors.New("plugin is not loaded")
	// ErrNotActive is returned when invoking a plugin that is not active.
	ErrNotActive = errors.New("plugin is not active")
)

// FailureKind classifies why a load was refused or failed.
type FailureKind string

const (
	// FailureUnsafeCode means the static safety scan rejected the source.
	FailureUnsafeCode FailureKind = "unsafe_code"
	// FailureNoRegistration means the unit executed without declaring a plugin.
	FailureNoRegistration FailureKind = "no_registration"
	// FailureMissingDependencies means declared dependencies are not satisfied.
	FailureMissingDependencies FailureKind = "missing_dependencies"
	// FailureEngine means the engine could not load or instantiate the unit.
	FailureEngine FailureKind = "engine_failure"
)

// LoadError reports a failed load with its classification.
type LoadError struct {
	PluginID string
	Kind     FailureKind
	Missing  []string // populated for FailureMissingDependencies
	Warnings []string // populated for FailureUnsafeCode
	Err      error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("loading plugin %q: %s", e.PluginID, e.Kind)
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, loader.ErrLoadFailed).
func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

// InitError reports a failed initialize. Refused means the plugin
// itself returned false rather than erroring.
type InitError struct {
	PluginID string
	Refused  bool
	Err      error
}

func (e *InitError) Error() string {
	if e.Refused {
		return fmt.Sprintf("initializing plugin %q: plugin refused", e.PluginID)
	}
	return fmt.Sprintf("initializing plugin %q: %v", e.PluginID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, loader.ErrInitFailed).
func (e *InitError) Is(target error) bool {
	return target == ErrInitFailed
}
