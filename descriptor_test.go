package toolbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgumentsEmptySchemaAcceptsAll(t *testing.T) {
	d := OperationDescriptor{Name: "echo"}
	assert.NoError(t, d.ValidateArguments(nil))
	assert.NoError(t, d.ValidateArguments(map[string]any{"anything": 1}))
}

func TestValidateArgumentsRequiredField(t *testing.T) {
	d := OperationDescriptor{
		Name: "read_file",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
	}

	assert.NoError(t, d.ValidateArguments(map[string]any{"path": "a.txt"}))

	err := d.ValidateArguments(map[string]any{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read_file")

	assert.Error(t, d.ValidateArguments(map[string]any{"path": 42}))
}

func TestValidateArgumentsStripsSchemaMarker(t *testing.T) {
	d := OperationDescriptor{
		Name: "kv_set",
		InputSchema: map[string]any{
			"$schema": "http://json-schema.org/draft-07/schema#",
			"type":    "object",
		},
	}
	assert.NoError(t, d.ValidateArguments(map[string]any{"key": "a"}))
}
