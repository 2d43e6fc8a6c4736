package config

import (
	"fmt"

	"github.com/cutpoint/pluginhost/descriptor"
)

// Builtin parameter types for each capability operation. A plugin may
// declare its own config_schema for settings; these describe the
// payload the host sends to the capability's operation, published so
// callers can build valid inputs without reading plugin sources.

// DetectorParams is the payload for detect_boundaries.
type DetectorParams struct {
	Threshold      float64 `json:"threshold,omitempty" jsonschema:"minimum=0,maximum=1,description=Boundary score cutoff"`
	MinSceneLength float64 `json:"min_scene_length,omitempty" jsonschema:"minimum=0,description=Shortest scene to report in seconds"`
	Frames         []int   `json:"frames,omitempty" jsonschema:"description=Frame indexes to inspect"`
}

// ProcessorParams is the payload for process_frames.
type ProcessorParams struct {
	Frames    []int          `json:"frames,omitempty" jsonschema:"description=Frame indexes to process"`
	Options   map[string]any `json:"options,omitempty" jsonschema:"description=Processor specific options"`
	InPlace   bool           `json:"in_place,omitempty"`
	BatchSize int            `json:"batch_size,omitempty" jsonschema:"minimum=1"`
}

// ExporterParams is the payload for export_results.
type ExporterParams struct {
	OutputPath string `json:"output_path" jsonschema:"description=Destination file for the export"`
	Format     string `json:"format,omitempty" jsonschema:"enum=json,enum=csv,enum=yaml"`
	Overwrite  bool   `json:"overwrite,omitempty"`
}

// ImporterParams is the payload for import_media.
type ImporterParams struct {
	SourcePath string `json:"source_path" jsonschema:"description=Media file to import"`
	Recursive  bool   `json:"recursive,omitempty"`
}

// FilterParams is the payload for filter_results.
type FilterParams struct {
	MinScore float64 `json:"min_score,omitempty" jsonschema:"minimum=0,maximum=1"`
	MaxItems int     `json:"max_items,omitempty" jsonschema:"minimum=0"`
}

// AnalyzerParams is the payload for analyze_content.
type AnalyzerParams struct {
	Metrics []string `json:"metrics,omitempty" jsonschema:"description=Named metrics to compute"`
	Window  float64  `json:"window,omitempty" jsonschema:"minimum=0,description=Analysis window in seconds"`
}

// VisualizerParams is the payload for render_overlay.
type VisualizerParams struct {
	Width   int    `json:"width,omitempty" jsonschema:"minimum=1"`
	Height  int    `json:"height,omitempty" jsonschema:"minimum=1"`
	Palette string `json:"palette,omitempty"`
}

// UtilityParams is the payload for run.
type UtilityParams struct {
	Args map[string]any `json:"args,omitempty" jsonschema:"description=Free form utility arguments"`
}

var builtinParams = map[descriptor.Capability]any{
	descriptor.CapabilityDetector:   &DetectorParams{},
	descriptor.CapabilityProcessor:  &ProcessorParams{},
	descriptor.CapabilityExporter:   &ExporterParams{},
	descriptor.CapabilityImporter:   &ImporterParams{},
	descriptor.CapabilityFilter:     &FilterParams{},
	descriptor.CapabilityAnalyzer:   &AnalyzerParams{},
	descriptor.CapabilityVisualizer: &VisualizerParams{},
	descriptor.CapabilityUtility:    &UtilityParams{},
}

// CapabilitySchema generates the JSON Schema for the builtin parameter
// type of the capability's operation.
func CapabilitySchema(c descriptor.Capability) (map[string]any, error) {
	model, ok := builtinParams[c]
	if !ok {
		return nil, fmt.Errorf("no builtin parameters for capability %q", c)
	}
	return GenerateSchema(model)
}
