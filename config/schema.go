package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	jsvalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateSettings checks per-plugin settings against the plugin's
// declared config schema (a JSON Schema document). A nil or empty
// schema accepts any settings.
func ValidateSettings(schema map[string]any, settings map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encoding config schema: %w", err)
	}

	compiler := jsvalidate.NewCompiler()
	if err := compiler.AddResource("config_schema.json", strings.NewReader(string(schemaJSON))); err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}
	compiled, err := compiler.Compile("config_schema.json")
	if err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	// Round-trip through JSON so YAML-decoded values (ints, nested
	// map types) take the shapes the validator expects.
	normalized, err := normalize(settings)
	if err != nil {
		return err
	}
	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("settings do not match config schema: %w", err)
	}
	return nil
}

func normalize(settings map[string]any) (any, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalizing settings: %w", err)
	}
	return out, nil
}

// GenerateSchema reflects a JSON Schema document from a Go struct.
// Built-in capability parameter types use this to publish the schema
// plugins are validated against.
func GenerateSchema(model any) (map[string]any, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	s := reflector.Reflect(model)

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding generated schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding generated schema: %w", err)
	}
	return out, nil
}
