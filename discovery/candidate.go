// Package discovery walks configured search paths and recognizes
// candidate plugin units, either manifest-declared or loose source
// files carrying a capability marker. Candidates are unvalidated:
// vetting and loading are the loader's job.
package discovery

import (
	"time"

	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/manifest"
)

// UnitKind tells the loader which engine executes a candidate.
type UnitKind string

const (
	// UnitWASM is a compiled WebAssembly plugin module.
	UnitWASM UnitKind = "wasm"
	// UnitLua is a Lua source plugin.
	UnitLua UnitKind = "lua"
)

// CandidateUnit is an unvalidated thing discovery believes might be a
// plugin. Manifest is nil for candidates found by heuristic source
// scanning; their descriptor fields come from the plugin itself after
// loading.
type CandidateUnit struct {
	ID           string             `json:"id"`
	Kind         UnitKind           `json:"kind"`
	SourcePath   string             `json:"source_path"`
	Dir          string             `json:"dir"`
	Manifest     *manifest.Manifest `json:"manifest,omitempty"`
	DiscoveredAt time.Time          `json:"discovered_at"`
}

// FromManifest reports whether the candidate was declared by a
// manifest rather than found by source scanning.
func (c CandidateUnit) FromManifest() bool {
	return c.Manifest != nil
}

// Clone returns a copy the caller may mutate without affecting the
// original.
func (c CandidateUnit) Clone() CandidateUnit {
	out := c
	if c.Manifest != nil {
		m := *c.Manifest
		m.Dependencies = append([]descriptor.Dependency(nil), c.Manifest.Dependencies...)
		m.Requests.Imports = append([]string(nil), c.Manifest.Requests.Imports...)
		m.Requests.Paths = append([]string(nil), c.Manifest.Requests.Paths...)
		m.Requests.Env = append([]string(nil), c.Manifest.Requests.Env...)
		out.Manifest = &m
	}
	return out
}
