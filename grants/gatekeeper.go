package grants

import (
	"fmt"
	"log/slog"
	"strings"
)

// SecurityLevel controls the gatekeeper's prompting behavior.
type SecurityLevel string

const (
	// SecurityStrict denies broad requests outright.
	SecurityStrict SecurityLevel = "strict"
	// SecurityStandard prompts for everything missing.
	SecurityStandard SecurityLevel = "standard"
	// SecurityPermissive grants without prompting.
	SecurityPermissive SecurityLevel = "permissive"
)

// Gatekeeper decides which requested permissions a plugin gets: stored
// grants first, then prompting for the difference, persisting decisions
// the user marks as permanent.
type Gatekeeper struct {
	store    Store
	prompter Prompter
	level    SecurityLevel
	logger   *slog.Logger
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithStore sets the grant store.
func WithStore(s Store) Option {
	return func(g *Gatekeeper) { g.store = s }
}

// WithPrompter sets the prompter.
func WithPrompter(p Prompter) Option {
	return func(g *Gatekeeper) { g.prompter = p }
}

// WithSecurityLevel sets the prompting policy.
func WithSecurityLevel(level SecurityLevel) Option {
	return func(g *Gatekeeper) { g.level = level }
}

// WithLogger sets the gatekeeper logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gatekeeper) { g.logger = l }
}

// NewGatekeeper creates a gatekeeper with pluggable store and prompter.
func NewGatekeeper(opts ...Option) *Gatekeeper {
	g := &Gatekeeper{level: SecurityStandard, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = NewFileStore()
	}
	if g.prompter == nil {
		g.prompter = NewTerminalPrompter()
	}
	return g
}

// Grant resolves the requested permissions for a plugin.
//
// trustAll short-circuits everything and grants the full request.
// Otherwise stored grants are honored, the missing remainder is
// prompted for one request at a time, and a single denial fails the
// whole grant: partially permitted plugins are worse than refused ones.
func (g *Gatekeeper) Grant(pluginID string, requested GrantSet, trustAll bool) (GrantSet, error) {
	if requested.IsEmpty() {
		return GrantSet{}, nil
	}
	if trustAll {
		g.logger.Warn("auto-granting all requested permissions",
			"plugin", pluginID, "imports", requested.Imports, "paths", requested.Paths, "env", requested.Env)
		return requested.Clone(), nil
	}

	stored, err := g.store.Load()
	if err != nil {
		g.logger.Warn("failed to load grant store, treating as empty", "error", err)
		stored = map[string]GrantSet{}
	}
	existing := stored[pluginID]

	missing := requested.Difference(existing)
	if missing.IsEmpty() {
		return existing, nil
	}

	if g.level != SecurityPermissive && !g.prompter.IsInteractive() {
		return GrantSet{}, nonInteractiveError(pluginID, missing, g.store.Path())
	}

	granted := existing.Clone()
	persist := false

	for _, req := range requestsFor(pluginID, missing) {
		ok, always, err := g.evaluate(req)
		if err != nil {
			return GrantSet{}, err
		}
		if !ok {
			return GrantSet{}, fmt.Errorf("permission denied by user: %s %s", req.Kind, req.Subject)
		}
		granted = granted.Merge(single(req))
		if always {
			persist = true
		}
	}

	if persist {
		stored[pluginID] = granted
		if err := g.store.Save(stored); err != nil {
			g.logger.Warn("failed to persist grants", "plugin", pluginID, "error", err)
		} else {
			g.logger.Info("permissions saved", "plugin", pluginID, "path", g.store.Path())
		}
	}
	return granted, nil
}

func (g *Gatekeeper) evaluate(req Request) (bool, bool, error) {
	if req.IsBroad {
		switch g.level {
		case SecurityStrict:
			g.logger.Error("broad permission denied by security policy",
				"level", g.level, "request", req.Description())
			return false, false, fmt.Errorf("broad permission denied by strict security policy: %s %s", req.Kind, req.Subject)
		case SecurityPermissive:
			g.logger.Warn("auto-granting broad permission", "request", req.Description())
			return true, false, nil
		}
	}
	if g.level == SecurityPermissive {
		return true, false, nil
	}
	return g.prompter.Prompt(req)
}

func requestsFor(pluginID string, missing GrantSet) []Request {
	reqs := make([]Request, 0, len(missing.Imports)+len(missing.Paths)+len(missing.Env))
	for _, m := range missing.Imports {
		reqs = append(reqs, Request{
			PluginID: pluginID,
			Kind:     "import",
			Subject:  m,
			IsBroad:  m == "*",
		})
	}
	for _, path := range missing.Paths {
		reqs = append(reqs, Request{
			PluginID: pluginID,
			Kind:     "path",
			Subject:  path,
			IsBroad:  path == "/" || strings.Contains(path, "**"),
		})
	}
	for _, name := range missing.Env {
		reqs = append(reqs, Request{
			PluginID: pluginID,
			Kind:     "env",
			Subject:  name,
			IsBroad:  name == "*",
		})
	}
	return reqs
}

func single(req Request) GrantSet {
	switch req.Kind {
	case "import":
		return GrantSet{Imports: []string{req.Subject}}
	case "env":
		return GrantSet{Env: []string{req.Subject}}
	default:
		return GrantSet{Paths: []string{req.Subject}}
	}
}
