package toolbridge

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// OperationDescriptor describes one named operation exposed by the peer:
// its unique name, a human description, and a JSON schema for its arguments.
// The schema exists for callers to document and validate against; the core
// never enforces it on the invocation path.
type OperationDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ValidateArguments checks args against the descriptor's schema. An empty or
// absent schema accepts anything.
func (d *OperationDescriptor) ValidateArguments(args map[string]any) error {
	if len(d.InputSchema) == 0 {
		return nil
	}

	// Some generators embed a $schema marker the validator chokes on.
	schema := make(map[string]any, len(d.InputSchema))
	for k, v := range d.InputSchema {
		if k == "$schema" {
			continue
		}
		schema[k] = v
	}

	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", d.Name, err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid arguments for %s: %s", d.Name, errs[0].String())
		}
		return fmt.Errorf("invalid arguments for %s", d.Name)
	}
	return nil
}
