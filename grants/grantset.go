// Package grants handles sandbox permission granting. Manifests may
// request imports and filesystem paths beyond the global defaults;
// granting them is a host-side decision, loaded from a store, prompted
// for when missing, and persisted when the user asks for it.
package grants

import (
	"slices"
	"sort"
)

// GrantSet is the set of extra sandbox permissions for one plugin:
// module imports beyond the global allow-list, filesystem roots beyond
// the global sandbox paths, and host environment variables by name.
type GrantSet struct {
	Imports []string `json:"imports,omitempty" yaml:"imports,omitempty"`
	Paths   []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// IsEmpty reports whether the set grants nothing.
func (g GrantSet) IsEmpty() bool {
	return len(g.Imports) == 0 && len(g.Paths) == 0 && len(g.Env) == 0
}

// Clone returns a deep copy.
func (g GrantSet) Clone() GrantSet {
	return GrantSet{
		Imports: slices.Clone(g.Imports),
		Paths:   slices.Clone(g.Paths),
		Env:     slices.Clone(g.Env),
	}
}

// Merge returns the union of both sets, deduplicated and sorted.
func (g GrantSet) Merge(other GrantSet) GrantSet {
	return GrantSet{
		Imports: mergeSorted(g.Imports, other.Imports),
		Paths:   mergeSorted(g.Paths, other.Paths),
		Env:     mergeSorted(g.Env, other.Env),
	}
}

// Difference returns the entries of g not present in other.
func (g GrantSet) Difference(other GrantSet) GrantSet {
	return GrantSet{
		Imports: subtract(g.Imports, other.Imports),
		Paths:   subtract(g.Paths, other.Paths),
		Env:     subtract(g.Env, other.Env),
	}
}

func mergeSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(slices.Clone(a), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func subtract(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	have := make(map[string]bool, len(b))
	for _, v := range b {
		have[v] = true
	}
	var out []string
	for _, v := range a {
		if !have[v] {
			out = append(out, v)
		}
	}
	return out
}
