package grants

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// Request is one permission put to the user.
type Request struct {
	PluginID string
	Kind     string // "import", "path", or "env"
	Subject  string
	IsBroad  bool
}

// Description renders the request for display.
func (r Request) Description() string {
	return fmt.Sprintf("plugin %q requests %s %q", r.PluginID, r.Kind, r.Subject)
}

// Prompter asks the user about permission requests.
type Prompter interface {
	IsInteractive() bool
	Prompt(req Request) (granted bool, always bool, err error)
}

// TerminalPrompter prompts on the controlling terminal.
type TerminalPrompter struct{}

var _ Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter creates a terminal prompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive reports whether stdin is a terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Prompt asks the user to grant one permission.
func (p *TerminalPrompter) Prompt(req Request) (bool, bool, error) {
	if req.IsBroad {
		fmt.Fprintf(os.Stderr, "\nSecurity warning: broad permission requested\n  %s\n\n", req.Description())
	}

	const (
		optionSession = "Yes, grant for this session"
		optionAlways  = "Always grant (save to grants file)"
		optionDeny    = "No, deny"
	)

	var selection string
	err := huh.NewSelect[string]().
		Title("Plugin Requesting Permission").
		Description(req.Description()).
		Options(
			huh.NewOption(optionSession, optionSession),
			huh.NewOption(optionAlways, optionAlways),
			huh.NewOption(optionDeny, optionDeny),
		).
		Value(&selection).
		Run()
	if err != nil {
		return false, false, err
	}

	switch selection {
	case optionSession:
		return true, false, nil
	case optionAlways:
		return true, true, nil
	default:
		return false, false, nil
	}
}

// nonInteractiveError explains missing grants when no terminal is
// available to prompt on.
func nonInteractiveError(pluginID string, missing GrantSet, storePath string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "plugin %q requires permissions (running non-interactively)\n\n", pluginID)
	msg.WriteString("Required permissions:\n")
	for _, m := range missing.Imports {
		fmt.Fprintf(&msg, "  - import %s\n", m)
	}
	for _, path := range missing.Paths {
		fmt.Fprintf(&msg, "  - path %s\n", path)
	}
	for _, name := range missing.Env {
		fmt.Fprintf(&msg, "  - env %s\n", name)
	}
	msg.WriteString("\nTo grant them:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Use --trust-plugins (grants everything requested)\n")
	fmt.Fprintf(&msg, "  3. Manually edit: %s\n", storePath)
	return fmt.Errorf("%s", msg.String())
}
