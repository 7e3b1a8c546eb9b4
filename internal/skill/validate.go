package skill

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateSchemaDoc compiles doc as a JSON Schema and reports whether it is
// well-formed. Skills publish inputs_schema/output_schema to callers, so a
// broken schema on disk would surface as a confusing failure much later,
// when a caller tries to validate arguments against it.
func ValidateSchemaDoc(doc map[string]any) error {
	if len(doc) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("skill: add schema resource: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("skill: invalid schema: %w", err)
	}
	return nil
}

// ValidateInputs validates args against a skill's inputs_schema. A skill
// with no inputs_schema accepts any arguments.
func ValidateInputs(schemaDoc map[string]any, args map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("inputs.json", schemaDoc); err != nil {
		return fmt.Errorf("skill: add inputs schema resource: %w", err)
	}
	schema, err := c.Compile("inputs.json")
	if err != nil {
		return fmt.Errorf("skill: compile inputs schema: %w", err)
	}

	// round-trip through JSON so numeric types match what a schema
	// compiled from parsed JSON expects (json.Number vs float64/int).
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("skill: marshal arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("skill: unmarshal arguments: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("skill: arguments failed validation: %w", err)
	}
	return nil
}
