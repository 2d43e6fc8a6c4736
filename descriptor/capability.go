// Package descriptor defines the plugin interface model: capability kinds,
// lifecycle status, and the durable metadata record kept by the registry.
package descriptor

import "fmt"

// Capability is the closed set of roles a plugin can declare.
// Each capability defines exactly one required operation that the
// plugin must export in addition to the lifecycle operations.
type Capability string

const (
	CapabilityDetector   Capability = "detector"
	CapabilityProcessor  Capability = "processor"
	CapabilityExporter   Capability = "exporter"
	CapabilityImporter   Capability = "importer"
	CapabilityFilter     Capability = "filter"
	CapabilityAnalyzer   Capability = "analyzer"
	CapabilityVisualizer Capability = "visualizer"
	CapabilityUtility    Capability = "utility"
)

// operations maps each capability to its required operation export.
var operations = map[Capability]string{
	CapabilityDetector:   "detect_boundaries",
	CapabilityProcessor:  "process_frames",
	CapabilityExporter:   "export_results",
	CapabilityImporter:   "import_media",
	CapabilityFilter:     "filter_results",
	CapabilityAnalyzer:   "analyze_content",
	CapabilityVisualizer: "render_overlay",
	CapabilityUtility:    "run",
}

// Capabilities returns all known capability kinds.
func Capabilities() []Capability {
	return []Capability{
		CapabilityDetector,
		CapabilityProcessor,
		CapabilityExporter,
		CapabilityImporter,
		CapabilityFilter,
		CapabilityAnalyzer,
		CapabilityVisualizer,
		CapabilityUtility,
	}
}

// ParseCapability validates a capability string.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if _, ok := operations[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
	}
	return c, nil
}

// Operation returns the operation export required for the capability.
func (c Capability) Operation() string {
	return operations[c]
}

// Valid reports whether the capability is one of the known kinds.
func (c Capability) Valid() bool {
	_, ok := operations[c]
	return ok
}

func (c Capability) String() string {
	return string(c)
}
