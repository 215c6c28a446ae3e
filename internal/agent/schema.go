package agent

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateInput checks a tool's JSON input against its declared schema.
// Validation failures come back as plain errors so callers can stringify
// them into the tool output.
func ValidateInput(schema, input json.RawMessage) error {
	compiled, err := jsonschema.CompileString("tool.schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}
	var value any
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}
