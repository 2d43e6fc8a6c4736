package sandbox

import "log/slog"

// Guard holds the sandbox configuration for one plugin and mints
// single-use sessions from it. Engines keep a guard for the lifetime of
// an instance; each guarded call gets a fresh session.
type Guard struct {
	PluginID string
	Budget   Budget
	Imports  ImportPolicy
	Paths    PathPolicy
	Env      EnvPolicy
	Denials  DenialHandler
	Logger   *slog.Logger
}

// NewSession mints a fresh single-use session carrying the guard's
// budget and policies.
func (g *Guard) NewSession() *Session {
	return NewSession(g.PluginID,
		WithBudget(g.Budget),
		WithImportPolicy(g.Imports),
		WithPathPolicy(g.Paths),
		WithDenialHandler(g.handler()),
		WithLogger(g.logger()),
	)
}

// CheckImport applies the import policy and reports denials. Engines
// use it for import checks that happen outside a running session, such
// as require calls from long-lived script states.
func (g *Guard) CheckImport(module string) error {
	ok, reason := g.Imports.Allowed(module)
	if ok {
		return nil
	}
	g.handler().OnDenial(g.PluginID, "import", module, reason)
	return &ImportBlockedError{Module: module, Reason: reason}
}

// CheckPath applies the file-access policy and reports denials,
// returning the resolved absolute path on success.
func (g *Guard) CheckPath(path string) (string, error) {
	resolved, err := g.Paths.Check(path)
	if err != nil {
		g.handler().OnDenial(g.PluginID, "file", path, "outside allowed roots")
		return "", err
	}
	return resolved, nil
}

// CheckEnv applies the environment policy and reports denials.
func (g *Guard) CheckEnv(name string) error {
	ok, reason := g.Env.Allowed(name)
	if ok {
		return nil
	}
	g.handler().OnDenial(g.PluginID, "env", name, reason)
	return &EnvAccessError{Variable: name}
}

func (g *Guard) handler() DenialHandler {
	if g.Denials != nil {
		return g.Denials
	}
	return &LogDenialHandler{Logger: g.logger()}
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
