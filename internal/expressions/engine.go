package expressions

import (
	"context"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Engine evaluates expressions against run data.
// Three implementations: CEL (gate policy), Expr (payload invariants), GoJQ (projections).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvaluateBool runs expression on engine and requires a boolean result.
func EvaluateBool(ctx context.Context, engine Engine, expression string, data map[string]any) (bool, error) {
	out, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s expression %q must evaluate to bool, got %T", engine.Name(), expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}
