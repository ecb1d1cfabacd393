package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// SchemaValidator validates JSON-compatible values against one compiled
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type SchemaValidator struct {
	id     string
	code   string
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles doc under the resource id. Violations found by
// Validate are reported with the given error code.
func NewSchemaValidator(id string, doc []byte, code string) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(doc)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", id, err)
	}
	if err := c.AddResource(id, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", id, err)
	}

	compiled, err := c.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", id, err)
	}

	return &SchemaValidator{id: id, code: code, schema: compiled}, nil
}

// ID returns the schema resource id.
func (v *SchemaValidator) ID() string {
	return v.id
}

// Validate checks value and returns one issue per leaf violation.
func (v *SchemaValidator) Validate(value any) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(value)
	if err != nil {
		result.AddError("/", v.code, "value is not JSON-serializable: "+err.Error())
		return result
	}

	if err := v.schema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			result.AddError("/", v.code, err.Error())
			return result
		}
		for _, viol := range collectViolations(verr) {
			result.AddError(viol.path, v.code, viol.message)
		}
	}
	return result
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf errors
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
