package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// CEL variables available to gate policies.
const (
	CELVarDecision     = "decision"
	CELVarUnderwriting = "underwriting"
	CELVarScenario     = "scenario"
)

// CELEngine implements Engine using Google's Common Expression Language.
// It evaluates the approval gate policy against the underwriting payload.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine with a sandboxed environment exposing:
//   - decision:     string, normalized approval_decision (APPROVE, DECLINE, RATED)
//   - underwriting: map(string, dyn), the full underwriting payload
//   - scenario:     map(string, dyn), scenario_id and mode of the run
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable(CELVarDecision, cel.StringType),
		cel.Variable(CELVarUnderwriting, mapType),
		cel.Variable(CELVarScenario, mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile checks an expression without evaluating it, so bad policies are
// rejected at configuration time rather than mid-run.
func (e *CELEngine) Compile(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// CompileBool is Compile plus a check that the expression is statically
// typed bool. dyn results (a bare underwriting field) are rejected too, so a
// policy cannot fail on its result type mid-run.
func (e *CELEngine) CompileBool(expression string) error {
	if err := e.Compile(expression); err != nil {
		return err
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).WithCause(issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"CEL expression %q must be of type bool, got %s", expression, out.String()).
			WithDetails(map[string]any{"expression": expression, "output_type": out.String()})
	}
	return nil
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against data. Missing variables default to empty values.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation fills in defaults for missing variables to avoid CEL
// "no such attribute" errors.
func buildActivation(data map[string]any) map[string]any {
	activation := map[string]any{
		CELVarDecision:     "",
		CELVarUnderwriting: map[string]any{},
		CELVarScenario:     map[string]any{},
	}
	for key := range activation {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
