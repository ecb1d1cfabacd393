package validation

import (
	"context"
	_ "embed"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/expressions"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

//go:embed reserve.schema.json
var reserveSchemaJSON []byte

// ReserveSchemaID is the resource id of the embedded reserve payload schema.
const ReserveSchemaID = "https://insurance-ai-toolkit.dev/schemas/reserve.json"

// Invariant is a boolean expr-lang expression a payload must satisfy.
type Invariant struct {
	Name     string
	Expr     string
	Message  string
	Severity schema.ValidationSeverity
}

// ReserveInvariants are checked after the payload passes the schema.
var ReserveInvariants = []Invariant{
	{
		Name:     "tail_dominates_mean",
		Expr:     "cte70 >= mean_reserve",
		Message:  "cte70 must be greater than or equal to mean_reserve",
		Severity: schema.SeverityError,
	},
	{
		Name:     "positive_scenario_count",
		Expr:     "scenario_count > 0",
		Message:  "scenario_count must be positive",
		Severity: schema.SeverityError,
	},
	{
		Name:     "convergence_is_fraction",
		Expr:     "convergence_error >= 0 && convergence_error <= 1",
		Message:  "convergence_error must be a fraction in [0, 1]",
		Severity: schema.SeverityError,
	},
	{
		Name:     "converged",
		Expr:     "convergence_error <= 0.05",
		Message:  "convergence_error above 5%; consider more scenarios",
		Severity: schema.SeverityWarning,
	},
}

// ReserveContract validates the Reserve stage payload: field types through
// the embedded JSON Schema, then the numeric invariants through expr.
type ReserveContract struct {
	schema     *SchemaValidator
	engine     *expressions.ExprEngine
	invariants []Invariant
}

// NewReserveContract compiles the reserve schema.
func NewReserveContract() (*ReserveContract, error) {
	sv, err := NewSchemaValidator(ReserveSchemaID, reserveSchemaJSON, schema.ErrCodeContractViolation)
	if err != nil {
		return nil, err
	}
	return &ReserveContract{
		schema:     sv,
		engine:     expressions.NewExprEngine(),
		invariants: ReserveInvariants,
	}, nil
}

// Check reports every schema violation, or, if the shape is valid, every
// broken invariant.
func (c *ReserveContract) Check(ctx context.Context, payload map[string]any) *schema.ValidationResult {
	result := c.schema.Validate(payload)
	if !result.Valid() {
		return result
	}

	for _, inv := range c.invariants {
		ok, err := expressions.EvaluateBool(ctx, c.engine, inv.Expr, payload)
		if err != nil {
			result.AddError("/"+inv.Name, schema.ErrCodeContractViolation, err.Error())
			continue
		}
		if ok {
			continue
		}
		if inv.Severity == schema.SeverityWarning {
			result.AddWarning("/"+inv.Name, schema.ErrCodeContractViolation, inv.Message)
		} else {
			result.AddError("/"+inv.Name, schema.ErrCodeContractViolation, inv.Message)
		}
	}
	return result
}

var _ PayloadChecker = (*ReserveContract)(nil)
