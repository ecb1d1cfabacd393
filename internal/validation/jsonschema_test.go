package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

const pointSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["x"],
  "properties": {
    "x": { "type": "integer", "minimum": 0 },
    "label": { "type": "string", "enum": ["a", "b"] }
  },
  "additionalProperties": false
}`

func TestNewSchemaValidator_Invalid(t *testing.T) {
	_, err := NewSchemaValidator("test://bad", []byte(`{not json`), schema.ErrCodeValidation)
	assert.Error(t, err)
}

func TestSchemaValidator_Validate(t *testing.T) {
	v, err := NewSchemaValidator("test://point", []byte(pointSchema), schema.ErrCodeValidation)
	require.NoError(t, err)
	assert.Equal(t, "test://point", v.ID())

	assert.True(t, v.Validate(map[string]any{"x": 3, "label": "a"}).Valid())

	res := v.Validate(map[string]any{"x": -1, "label": "z"})
	require.False(t, res.Valid())
	assert.Len(t, res.Errors, 2)

	paths := []string{res.Errors[0].Path, res.Errors[1].Path}
	assert.ElementsMatch(t, []string{"/x", "/label"}, paths)
	assert.Equal(t, schema.ErrCodeValidation, res.Errors[0].Code)
}

func TestSchemaValidator_Struct(t *testing.T) {
	v, err := NewSchemaValidator("test://point-struct", []byte(pointSchema), schema.ErrCodeValidation)
	require.NoError(t, err)

	type point struct {
		X     int    `json:"x"`
		Label string `json:"label,omitempty"`
	}
	assert.True(t, v.Validate(point{X: 1}).Valid())
	assert.False(t, v.Validate(point{X: 1, Label: "c"}).Valid())
}

func TestSchemaValidator_Unserializable(t *testing.T) {
	v, err := NewSchemaValidator("test://point-chan", []byte(pointSchema), schema.ErrCodeValidation)
	require.NoError(t, err)

	res := v.Validate(map[string]any{"x": make(chan int)})
	require.False(t, res.Valid())
	assert.Equal(t, "/", res.Errors[0].Path)
}
