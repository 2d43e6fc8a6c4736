package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session scopes one guarded execution: a resource budget, an import
// policy, and a file-access policy, applied for the duration of a
// single body and released on every exit path.
//
// A session may be consumed exactly once. Unlike a process-wide rlimit
// sandbox, sessions carry their limits in-value, so multiple sessions
// can be in flight concurrently against independent engine instances.
type Session struct {
	id       string
	pluginID string
	budget   Budget
	imports  ImportPolicy
	paths    PathPolicy
	denials  DenialHandler
	logger   *slog.Logger
	consumed atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBudget sets the resource budget.
func WithBudget(b Budget) SessionOption {
	return func(s *Session) { s.budget = b }
}

// WithImportPolicy sets the module import policy.
func WithImportPolicy(p ImportPolicy) SessionOption {
	return func(s *Session) { s.imports = p }
}

// WithPathPolicy sets the file-access policy.
func WithPathPolicy(p PathPolicy) SessionOption {
	return func(s *Session) { s.paths = p }
}

// WithDenialHandler sets the handler for policy denials.
func WithDenialHandler(h DenialHandler) SessionOption {
	return func(s *Session) { s.denials = h }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a session for the given plugin.
func NewSession(pluginID string, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.NewString(),
		pluginID: pluginID,
		budget:   DefaultBudget(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.denials == nil {
		s.denials = &LogDenialHandler{Logger: s.logger}
	}
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// PluginID returns the plugin the session guards.
func (s *Session) PluginID() string { return s.pluginID }

// Budget returns the session's resource budget.
func (s *Session) Budget() Budget { return s.budget }

// CheckImport applies the import policy and reports denials.
func (s *Session) CheckImport(module string) error {
	ok, reason := s.imports.Allowed(module)
	if ok {
		return nil
	}
	s.denials.OnDenial(s.pluginID, "import", module, reason)
	return &ImportBlockedError{Module: module, Reason: reason}
}

// CheckPath applies the file-access policy and reports denials.
// It returns the resolved absolute path on success.
func (s *Session) CheckPath(path string) (string, error) {
	resolved, err := s.paths.Check(path)
	if err != nil {
		s.denials.OnDenial(s.pluginID, "file", path, "outside allowed roots")
		return "", err
	}
	return resolved, nil
}

// PathPolicy returns the session's file-access policy.
func (s *Session) PathPolicy() PathPolicy { return s.paths }

// Run executes body under the session's wall-clock deadline.
//
// The deadline context is cancelled on every exit path: normal return,
// error return, and panic. A deadline hit surfaces as a TimeoutError.
// Reusing a consumed session returns ErrSessionConsumed.
func (s *Session) Run(ctx context.Context, body func(ctx context.Context) error) error {
	if !s.consumed.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionConsumed)
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.budget.MaxExecution > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.budget.MaxExecution)
	}
	defer cancel()

	start := time.Now()
	err := body(runCtx)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("guarded execution timed out",
				"plugin", s.pluginID,
				"session", s.id,
				"limit", s.budget.MaxExecution)
			return &TimeoutError{PluginID: s.pluginID, Limit: s.budget.MaxExecution}
		}
		return err
	}

	s.logger.Debug("guarded execution finished",
		"plugin", s.pluginID,
		"session", s.id,
		"elapsed", elapsed)
	return nil
}
