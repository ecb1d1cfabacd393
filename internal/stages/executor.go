package stages

import (
	"context"
	"fmt"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Executor computes one stage of the pipeline. Returning an error or
// panicking counts as the stage raising; the orchestrator treats both like a
// failed outcome. Implementations must be safe to call concurrently with other
// executors and must not retain or mutate input.
type Executor interface {
	Name() schema.StageName
	Execute(ctx context.Context, input map[string]any) (*schema.StageOutcome, error)
}

// Func adapts a function to Executor.
type Func struct {
	Stage schema.StageName
	Fn    func(ctx context.Context, input map[string]any) (*schema.StageOutcome, error)
}

// Name returns the stage the function serves.
func (f Func) Name() schema.StageName { return f.Stage }

// Execute calls Fn.
func (f Func) Execute(ctx context.Context, input map[string]any) (*schema.StageOutcome, error) {
	return f.Fn(ctx, input)
}

// Guard wraps an executor so that every failure mode collapses into a failed
// outcome and the returned payload shares nothing with the executor.
func Guard(exec Executor) Executor {
	if g, ok := exec.(*guarded); ok {
		return g
	}
	return &guarded{inner: exec}
}

type guarded struct {
	inner Executor
}

func (g *guarded) Name() schema.StageName { return g.inner.Name() }

func (g *guarded) Execute(ctx context.Context, input map[string]any) (out *schema.StageOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = schema.Failed("%s executor panicked: %v", g.inner.Name(), r), nil
		}
	}()

	res, execErr := g.inner.Execute(ctx, schema.CopyPayload(input))
	if execErr != nil {
		return schema.Failed("%s", execErr.Error()), nil
	}
	if res == nil {
		return schema.Failed("%s executor returned no outcome", g.inner.Name()), nil
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("%s executor reported failure", g.inner.Name())
		}
		return &schema.StageOutcome{Error: msg}, nil
	}
	return schema.Succeeded(schema.CopyPayload(res.Payload)), nil
}

// WithContract runs check on every successful payload and turns a failed
// check into a failed outcome listing the violations.
func WithContract(exec Executor, check validation.PayloadChecker) Executor {
	return &contracted{inner: exec, check: check}
}

type contracted struct {
	inner Executor
	check validation.PayloadChecker
}

func (c *contracted) Name() schema.StageName { return c.inner.Name() }

func (c *contracted) Execute(ctx context.Context, input map[string]any) (*schema.StageOutcome, error) {
	out, err := c.inner.Execute(ctx, input)
	if err != nil || out == nil || !out.Success {
		return out, err
	}
	res := c.check.Check(ctx, out.Payload)
	if terr := res.ToError(); terr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeContractViolation,
			"%s payload violates contract: %v", c.inner.Name(), res.Messages()).
			WithStage(c.inner.Name()).
			WithCause(terr)
	}
	return out, nil
}
