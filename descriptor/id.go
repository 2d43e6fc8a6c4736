package descriptor

import (
	"fmt"
	"strings"
)

// PluginID is a validated plugin identifier.
//
// A valid id is non-empty, at most 64 characters, and contains only
// alphanumeric characters, underscores, and hyphens. Path separators
// and parent-directory references are rejected because ids are used
// as path components in the catalog and the plugin cache.
type PluginID struct {
	value string
}

// NewPluginID creates a PluginID with strict validation.
func NewPluginID(id string) (PluginID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return PluginID{}, fmt.Errorf("plugin id cannot be empty")
	}
	if len(id) > 64 {
		return PluginID{}, fmt.Errorf("plugin id too long (max 64 chars)")
	}
	if strings.ContainsAny(id, `/\`) {
		return PluginID{}, fmt.Errorf("plugin id cannot contain path separators")
	}
	if strings.Contains(id, "..") {
		return PluginID{}, fmt.Errorf("plugin id cannot contain parent directory references")
	}
	for _, ch := range id {
		if !isValidIDChar(ch) {
			return PluginID{}, fmt.Errorf("invalid plugin id %q: must contain only alphanumeric characters, underscores, and hyphens", id)
		}
	}
	return PluginID{value: id}, nil
}

func isValidIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' ||
		r == '-'
}

// MustNewPluginID creates a PluginID or panics.
func MustNewPluginID(id string) PluginID {
	p, err := NewPluginID(id)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the raw id.
func (p PluginID) String() string {
	return p.value
}

// IsEmpty reports whether this is the zero value.
func (p PluginID) IsEmpty() bool {
	return p.value == ""
}

// Equals reports whether two ids are the same.
func (p PluginID) Equals(other PluginID) bool {
	return p.value == other.value
}
