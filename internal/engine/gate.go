package engine

import (
	"context"
	"strings"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/expressions"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// RatedPolicy selects how a RATED underwriting decision is gated.
type RatedPolicy string

const (
	// RatedDecline treats RATED like DECLINE. Only APPROVE proceeds.
	RatedDecline RatedPolicy = "decline"
	// RatedProceed treats RATED like APPROVE. Only DECLINE skips.
	RatedProceed RatedPolicy = "proceed"
)

// Built-in gate expressions, evaluated with CEL.
const (
	ProceedUnlessDeclined = `decision != "DECLINE"`
	ProceedOnlyIfApproved = `decision == "APPROVE"`
)

// ParseRatedPolicy accepts "proceed" or "decline" (case-insensitive). Empty
// means decline.
func ParseRatedPolicy(s string) (RatedPolicy, error) {
	switch RatedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RatedDecline:
		return RatedDecline, nil
	case RatedProceed:
		return RatedProceed, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown rated policy %q (want proceed or decline)", s)
	}
}

// GateDecision is the outcome of the approval gate for one run.
type GateDecision struct {
	Decision   schema.ApprovalDecision `json:"decision"`
	Proceed    bool                    `json:"proceed"`
	Expression string                  `json:"expression"`
}

// ApprovalGate decides from the underwriting payload whether Reserve and
// Behavior run. DECLINE always skips; the expression decides every other
// decision. Safe for concurrent use.
type ApprovalGate struct {
	engine     *expressions.CELEngine
	expression string
}

// NewApprovalGate builds a gate for policy. A non-empty expression replaces
// the policy's built-in expression and is compiled up front; it must be
// statically typed bool.
func NewApprovalGate(policy RatedPolicy, expression string) (*ApprovalGate, error) {
	engine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	expr := strings.TrimSpace(expression)
	if expr == "" {
		switch policy {
		case RatedDecline, "":
			expr = ProceedOnlyIfApproved
		case RatedProceed:
			expr = ProceedUnlessDeclined
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown rated policy %q", policy)
		}
	}
	if err := engine.CompileBool(expr); err != nil {
		return nil, err
	}
	return &ApprovalGate{engine: engine, expression: expr}, nil
}

// DefaultGate returns the gate used when none is configured: only APPROVE
// proceeds.
func DefaultGate() *ApprovalGate {
	g, err := NewApprovalGate(RatedDecline, "")
	if err != nil {
		panic(err)
	}
	return g
}

// Expression returns the CEL expression the gate evaluates.
func (g *ApprovalGate) Expression() string {
	return g.expression
}

// Evaluate reads approval_decision from the underwriting payload. A missing
// or unknown decision is a CONTRACT_VIOLATION.
func (g *ApprovalGate) Evaluate(ctx context.Context, payload map[string]any, ec schema.ExecutionContext) (*GateDecision, error) {
	raw, ok := payload[schema.ApprovalDecisionKey]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeContractViolation,
			"underwriting payload has no %s", schema.ApprovalDecisionKey).WithStage(schema.StageUnderwriting)
	}
	decision, err := schema.ParseApprovalDecision(raw)
	if err != nil {
		if te, ok := err.(*schema.ToolkitError); ok {
			return nil, te.WithStage(schema.StageUnderwriting)
		}
		return nil, err
	}

	out := &GateDecision{Decision: decision, Expression: g.expression}
	if decision == schema.DecisionDecline {
		return out, nil
	}

	proceed, err := expressions.EvaluateBool(ctx, g.engine, g.expression, map[string]any{
		expressions.CELVarDecision:     string(decision),
		expressions.CELVarUnderwriting: payload,
		expressions.CELVarScenario: map[string]any{
			"scenario_id": ec.ScenarioID,
			"mode":        string(ec.Mode),
		},
	})
	if err != nil {
		return nil, err
	}
	out.Proceed = proceed
	return out, nil
}
