package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// compiledSchema wraps a resolved jsonschema.Schema so validation at
// dispatch time doesn't re-walk the schema document on every tools/call
// (spec.md §4.5: arguments are validated against inputSchema before the
// handler ever sees them).
type compiledSchema struct {
	raw      *jsonschema.Schema
	resolved *jsonschema.Resolved
}

func compileSchema(schema *jsonschema.Schema) (*compiledSchema, error) {
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tools: resolve input schema: %w", err)
	}
	return &compiledSchema{raw: schema, resolved: resolved}, nil
}

// validate checks a raw JSON arguments payload against the compiled
// schema, returning a human-readable reason on failure suitable for a
// -32602 Invalid params error (spec §7).
func (c *compiledSchema) validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := c.resolved.Validate(instance); err != nil {
		return fmt.Errorf("arguments do not satisfy input schema: %w", err)
	}
	return nil
}

// objectSchema is a small helper for building the common case of an
// object schema with named, typed properties, used by the built-in tools.
func objectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func integerProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func booleanProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}
