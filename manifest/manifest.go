// Package manifest defines the plugin manifest format and its parsers.
//
// A manifest declares a plugin's identity, capability, entry point and
// resource requests. Manifest-based discovery takes precedence over
// heuristic source scanning when both exist in the same directory.
package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/cutpoint/pluginhost/descriptor"
)

// Filenames recognized by discovery, in precedence order.
var Filenames = []string{
	"plugin.yaml",
	"plugin.yml",
	"plugin.json",
}

// Manifest is the declared metadata for one plugin unit.
type Manifest struct {
	ID           string                  `json:"id" yaml:"id"`
	Name         string                  `json:"name" yaml:"name"`
	Version      string                  `json:"version" yaml:"version"`
	Description  string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string                  `json:"author,omitempty" yaml:"author,omitempty"`
	Capability   string                  `json:"capability" yaml:"capability"`
	EntryPoint   string                  `json:"entry_point" yaml:"entry_point"`
	Dependencies []descriptor.Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ConfigSchema map[string]any          `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`

	// Requests declares sandbox permissions beyond the global defaults.
	// Granting them is the gatekeeper's decision, never automatic.
	Requests Requests `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// Requests lists permissions a plugin asks for beyond global defaults.
type Requests struct {
	Imports []string `json:"imports,omitempty" yaml:"imports,omitempty"`
	Paths   []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Validate checks required fields and field formats. It does not touch
// the filesystem; entry-point existence is checked by discovery, which
// knows the manifest's directory.
func (m *Manifest) Validate() error {
	if _, err := descriptor.NewPluginID(m.ID); err != nil {
		return fmt.Errorf("manifest id: %w", err)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest %q: name is required", m.ID)
	}
	if m.EntryPoint == "" {
		return fmt.Errorf("manifest %q: entry_point is required", m.ID)
	}
	if filepath.IsAbs(m.EntryPoint) {
		return fmt.Errorf("manifest %q: entry_point must be relative to the manifest directory", m.ID)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest %q: version %q: %w", m.ID, m.Version, err)
	}
	if m.Capability != "" {
		if _, err := descriptor.ParseCapability(m.Capability); err != nil {
			return fmt.Errorf("manifest %q: %w", m.ID, err)
		}
	}
	for _, dep := range m.Dependencies {
		if _, err := descriptor.NewPluginID(dep.ID); err != nil {
			return fmt.Errorf("manifest %q: dependency: %w", m.ID, err)
		}
		if _, err := dep.Constraint(); err != nil {
			return fmt.Errorf("manifest %q: dependency %q: %w", m.ID, dep.ID, err)
		}
	}
	return nil
}

// ToDescriptor builds a registry descriptor from the manifest.
// sourcePath is the resolved entry-point path; status starts Unknown.
func (m *Manifest) ToDescriptor(sourcePath string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		ID:           m.ID,
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Author:       m.Author,
		Capability:   descriptor.Capability(m.Capability),
		Dependencies: append([]descriptor.Dependency(nil), m.Dependencies...),
		ConfigSchema: m.ConfigSchema,
		SourcePath:   sourcePath,
		Status:       descriptor.StatusUnknown,
	}
}
