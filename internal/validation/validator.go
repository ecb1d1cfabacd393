package validation

import (
	"context"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// PayloadChecker inspects a stage payload and reports every problem found.
// Implementations never mutate the payload.
type PayloadChecker interface {
	Check(ctx context.Context, payload map[string]any) *schema.ValidationResult
}

// CheckFunc adapts a function to PayloadChecker.
type CheckFunc func(ctx context.Context, payload map[string]any) *schema.ValidationResult

// Check calls f.
func (f CheckFunc) Check(ctx context.Context, payload map[string]any) *schema.ValidationResult {
	return f(ctx, payload)
}
