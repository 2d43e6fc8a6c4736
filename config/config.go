// Package config holds the runtime's persisted settings: a global
// layer and per-plugin overrides merged over it.
package config

import (
	"time"

	"github.com/cutpoint/pluginhost/sandbox"
)

// ResourceLimits is the configurable part of a sandbox budget.
type ResourceLimits struct {
	MaxMemoryMB      int     `yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxCPUPercent    int     `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxExecutionTime float64 `yaml:"max_execution_time" json:"max_execution_time"`
}

// Budget converts the limits to a sandbox budget.
func (l ResourceLimits) Budget() sandbox.Budget {
	return sandbox.Budget{
		MaxMemoryMB:   l.MaxMemoryMB,
		MaxCPUPercent: l.MaxCPUPercent,
		MaxExecution:  time.Duration(l.MaxExecutionTime * float64(time.Second)),
	}
}

// Global is the runtime-wide configuration layer.
type Global struct {
	Enabled           bool           `yaml:"enabled" json:"enabled"`
	AutoLoad          bool           `yaml:"auto_load" json:"auto_load"`
	PluginDirectories []string       `yaml:"plugin_directories" json:"plugin_directories"`
	MaxLoadTime       float64        `yaml:"max_load_time" json:"max_load_time"`
	EnableSandboxing  bool           `yaml:"enable_sandboxing" json:"enable_sandboxing"`
	AllowedImports    []string       `yaml:"allowed_imports" json:"allowed_imports"`
	BlockedImports    []string       `yaml:"blocked_imports" json:"blocked_imports"`
	ResourceLimits    ResourceLimits `yaml:"resource_limits" json:"resource_limits"`
}

// Plugin is one per-plugin override layer. Absent fields inherit the
// global layer; Settings are plugin-declared keys validated against the
// plugin's config schema.
type Plugin struct {
	Enabled        *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ResourceLimits *ResourceLimits `yaml:"resource_limits,omitempty" json:"resource_limits,omitempty"`
	Settings       map[string]any  `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// Config is the full persisted configuration document.
type Config struct {
	Global  Global            `yaml:"global" json:"global"`
	Plugins map[string]Plugin `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// Default returns the configuration applied when no file exists.
func Default() *Config {
	return &Config{
		Global: Global{
			Enabled:          true,
			AutoLoad:         false,
			MaxLoadTime:      30,
			EnableSandboxing: true,
			AllowedImports:   []string{"string", "table", "math", "host"},
			BlockedImports:   []string{"debug", "package"},
			ResourceLimits: ResourceLimits{
				MaxMemoryMB:      128,
				MaxCPUPercent:    50,
				MaxExecutionTime: 30,
			},
		},
		Plugins: make(map[string]Plugin),
	}
}

// PluginEnabled reports whether the plugin may be loaded. Absence of a
// per-plugin override inherits the global enabled flag.
func (c *Config) PluginEnabled(id string) bool {
	if p, ok := c.Plugins[id]; ok && p.Enabled != nil {
		return *p.Enabled
	}
	return c.Global.Enabled
}

// BudgetFor merges the per-plugin resource overrides over the global
// defaults.
func (c *Config) BudgetFor(id string) sandbox.Budget {
	budget := c.Global.ResourceLimits.Budget()
	if p, ok := c.Plugins[id]; ok && p.ResourceLimits != nil {
		budget = budget.Merge(p.ResourceLimits.Budget())
	}
	return budget
}

// SettingsFor returns the per-plugin settings map, never nil.
func (c *Config) SettingsFor(id string) map[string]any {
	if p, ok := c.Plugins[id]; ok && p.Settings != nil {
		return p.Settings
	}
	return map[string]any{}
}

// ImportPolicy builds the global import policy.
func (c *Config) ImportPolicy() sandbox.ImportPolicy {
	return sandbox.ImportPolicy{
		Allow: c.Global.AllowedImports,
		Block: c.Global.BlockedImports,
	}
}

// SetPluginEnabled records a per-plugin enable override.
func (c *Config) SetPluginEnabled(id string, enabled bool) {
	if c.Plugins == nil {
		c.Plugins = make(map[string]Plugin)
	}
	p := c.Plugins[id]
	p.Enabled = &enabled
	c.Plugins[id] = p
}
