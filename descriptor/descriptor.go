package descriptor

import (
	"time"

	"github.com/Masterminds/semver/v3"
)

// Dependency names another plugin that must be registered before the
// dependent may become active. Version is an optional semver constraint
// (e.g. ">= 1.2.0") checked against the dependency's declared version
// when both sides are registered.
type Dependency struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Constraint parses the dependency's version constraint.
// An empty constraint matches any version.
func (d Dependency) Constraint() (*semver.Constraints, error) {
	if d.Version == "" {
		return semver.NewConstraint(">= 0.0.0")
	}
	return semver.NewConstraint(d.Version)
}

// Descriptor is the durable metadata record for one plugin.
// It is the unit of truth in the registry.
type Descriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Version      string         `json:"version" yaml:"version"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string         `json:"author,omitempty" yaml:"author,omitempty"`
	Capability   Capability     `json:"capability" yaml:"capability"`
	Dependencies []Dependency   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ConfigSchema map[string]any `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	SourcePath   string         `json:"source_path" yaml:"source_path"`
	Status       Status         `json:"status" yaml:"status"`
	RegisteredAt time.Time      `json:"registered_at" yaml:"registered_at"`
	LastUpdated  time.Time      `json:"last_updated" yaml:"last_updated"`
}

// SemVersion parses the descriptor's version.
func (d *Descriptor) SemVersion() (*semver.Version, error) {
	return semver.NewVersion(d.Version)
}

// DependencyIDs returns the declared dependency ids in declaration order.
func (d *Descriptor) DependencyIDs() []string {
	if len(d.Dependencies) == 0 {
		return nil
	}
	ids := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		ids = append(ids, dep.ID)
	}
	return ids
}

// Clone returns a deep copy. Registry queries hand out clones so callers
// cannot mutate catalog state behind the registry's lock.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	if d.Dependencies != nil {
		c.Dependencies = make([]Dependency, len(d.Dependencies))
		copy(c.Dependencies, d.Dependencies)
	}
	if d.ConfigSchema != nil {
		c.ConfigSchema = make(map[string]any, len(d.ConfigSchema))
		for k, v := range d.ConfigSchema {
			c.ConfigSchema[k] = v
		}
	}
	return &c
}
