// Package sandbox provides resource budgets, import and file-access
// policies, and the guarded-execution session used for every plugin
// load and invocation.
package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for sandbox failures. Each guarded execution can fail
// with exactly one of these; all are fatal to that execution only.
var (
	ErrMemoryExceeded   = errors.New("memory budget exceeded")
	ErrCPUExceeded      = errors.New("cpu budget exceeded")
	ErrTimeoutExceeded  = errors.New("execution deadline exceeded")
	ErrImportBlocked    = errors.New("import blocked by policy")
	ErrFileAccessDenied = errors.New("file access denied by policy")
	ErrEnvAccessDenied  = errors.New("environment access denied by policy")
	ErrSessionConsumed  = errors.New("sandbox session already used")
)

// TimeoutError reports that a guarded execution exceeded its wall-clock
// deadline and was abandoned.
type TimeoutError struct {
	PluginID string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("plugin %s: execution exceeded %s deadline", e.PluginID, e.Limit)
}

// Is allows errors.Is(err, sandbox.ErrTimeoutExceeded).
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeoutExceeded
}

// ImportBlockedError reports a module import denied by the import policy.
type ImportBlockedError struct {
	Module string
	Reason string
}

func (e *ImportBlockedError) Error() string {
	return fmt.Sprintf("import %q blocked: %s", e.Module, e.Reason)
}

// Is allows errors.Is(err, sandbox.ErrImportBlocked).
func (e *ImportBlockedError) Is(target error) bool {
	return target == ErrImportBlocked
}

// FileAccessError reports a file open denied by the path policy.
type FileAccessError struct {
	Path string
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("access to %q denied: outside allowed roots", e.Path)
}

// Is allows errors.Is(err, sandbox.ErrFileAccessDenied).
func (e *FileAccessError) Is(target error) bool {
	return target == ErrFileAccessDenied
}

// EnvAccessError reports an environment read denied by the env policy.
type EnvAccessError struct {
	Variable string
}

func (e *EnvAccessError) Error() string {
	return fmt.Sprintf("environment variable %q denied: not granted", e.Variable)
}

// Is allows errors.Is(err, sandbox.ErrEnvAccessDenied).
func (e *EnvAccessError) Is(target error) bool {
	return target == ErrEnvAccessDenied
}
