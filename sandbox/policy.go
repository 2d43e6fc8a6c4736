package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ImportPolicy filters module imports for a guarded execution.
//
// Allow-list matches by exact name or by prefix: module "a.b" is
// allowed when "a" is on the allow-list. Block-list matches exact
// names only and always wins over the allow-list.
type ImportPolicy struct {
	Allow []string
	Block []string

	// AllowAll bypasses the allow-list entirely. The block-list still
	// wins. Used when sandboxing is disabled by configuration.
	AllowAll bool
}

// Allowed reports whether the named module may be imported.
// The returned reason describes the denial for logging.
func (p ImportPolicy) Allowed(module string) (bool, string) {
	for _, blocked := range p.Block {
		if module == blocked {
			return false, "module is on the block list"
		}
	}
	if p.AllowAll {
		return true, ""
	}
	if len(p.Allow) == 0 {
		return false, "allow list is empty"
	}
	for _, allowed := range p.Allow {
		if module == allowed || strings.HasPrefix(module, allowed+".") {
			return true, ""
		}
	}
	return false, "module is not on the allow list"
}

// Extend returns a policy whose allow-list additionally contains the
// given modules. The block-list is never extended; block always wins.
func (p ImportPolicy) Extend(modules []string) ImportPolicy {
	if len(modules) == 0 {
		return p
	}
	out := ImportPolicy{
		Allow:    append(append([]string(nil), p.Allow...), modules...),
		Block:    p.Block,
		AllowAll: p.AllowAll,
	}
	return out
}

// PathPolicy restricts file access to descendants of the allowed roots.
// An empty root set means file access is denied outright.
type PathPolicy struct {
	Roots []string

	// AllowAll grants unrestricted file access. Used when sandboxing is
	// disabled by configuration.
	AllowAll bool
}

// Check resolves path to an absolute form with symlinks evaluated and
// verifies the resolved path is a descendant of one of the allowed
// roots. Comparing the resolved path, not the lexical one, is what
// stops a symlink inside an allowed root from reaching outside it. It
// returns the resolved path or a FileAccessError.
func (p PathPolicy) Check(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &FileAccessError{Path: path}
	}
	abs = filepath.Clean(abs)

	if p.AllowAll {
		return abs, nil
	}

	resolved, err := resolveSymlinks(abs)
	if err != nil {
		return "", &FileAccessError{Path: path}
	}

	for _, root := range p.Roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootResolved, err := resolveSymlinks(filepath.Clean(rootAbs))
		if err != nil {
			continue
		}
		if resolved == rootResolved || strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", &FileAccessError{Path: path}
}

// resolveSymlinks evaluates every symlink in path. Paths that do not
// exist yet are resolved through their deepest existing ancestor with
// the remaining components re-appended, so a file about to be created
// is judged by where it would actually land.
func resolveSymlinks(path string) (string, error) {
	current := path
	remainder := ""
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Clean(filepath.Join(resolved, remainder)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// AllowsAnything reports whether any file access can succeed.
func (p PathPolicy) AllowsAnything() bool {
	return p.AllowAll || len(p.Roots) > 0
}

// EnvPolicy restricts environment variable reads to named variables.
// The host environment carries credentials; a plugin sees nothing it
// was not granted. Matching is by exact variable name.
type EnvPolicy struct {
	Allow []string

	// AllowAll grants unrestricted environment access. Used when
	// sandboxing is disabled by configuration.
	AllowAll bool
}

// Allowed reports whether the named variable may be read.
func (p EnvPolicy) Allowed(name string) (bool, string) {
	if p.AllowAll {
		return true, ""
	}
	for _, allowed := range p.Allow {
		if name == allowed {
			return true, ""
		}
	}
	return false, "variable is not on the allow list"
}

// DenialHandler is called when a policy check denies a request.
type DenialHandler interface {
	// OnDenial is called with the denied kind ("import", "file", or
	// "env"), the subject of the request, and the denial reason.
	OnDenial(pluginID, kind, subject, reason string)
}

// Ensure implementations satisfy the interface.
var (
	_ DenialHandler = (*LogDenialHandler)(nil)
	_ DenialHandler = (*NopDenialHandler)(nil)
)

// LogDenialHandler records denials on a slog logger.
type LogDenialHandler struct {
	Logger *slog.Logger
}

func (h *LogDenialHandler) OnDenial(pluginID, kind, subject, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("sandbox denial",
		"plugin", pluginID,
		"kind", kind,
		"subject", subject,
		"reason", reason)
}

// NopDenialHandler does nothing.
type NopDenialHandler struct{}

func (h *NopDenialHandler) OnDenial(pluginID, kind, subject, reason string) {}
