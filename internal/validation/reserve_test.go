package validation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

func validReserve() map[string]any {
	return map[string]any{
		"policy_id":         "POL-001",
		"account_value":     150000.0,
		"cte70":             45000.0,
		"mean_reserve":      36000.0,
		"scenario_count":    1000,
		"convergence_error": 0.012,
	}
}

func TestReserveContract_Valid(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	res := c.Check(context.Background(), validReserve())
	assert.True(t, res.Valid(), res.Messages())
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.ToError())
}

func TestReserveContract_MissingFields(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	p := validReserve()
	delete(p, "cte70")
	delete(p, "scenario_count")

	res := c.Check(context.Background(), p)
	require.False(t, res.Valid())
	for _, issue := range res.Errors {
		assert.Equal(t, schema.ErrCodeContractViolation, issue.Code)
	}
}

func TestReserveContract_WrongType(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	p := validReserve()
	p["scenario_count"] = 10.5

	res := c.Check(context.Background(), p)
	require.False(t, res.Valid())
	assert.Equal(t, "/scenario_count", res.Errors[0].Path)
}

func TestReserveContract_Invariants(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	tests := []struct {
		name  string
		mut   func(map[string]any)
		path  string
		valid bool
	}{
		{"tail below mean", func(p map[string]any) { p["cte70"] = 1000.0 }, "/tail_dominates_mean", false},
		{"tail equals mean", func(p map[string]any) { p["cte70"] = 36000.0 }, "", true},
		{"zero scenarios", func(p map[string]any) { p["scenario_count"] = 0 }, "/positive_scenario_count", false},
		{"negative convergence", func(p map[string]any) { p["convergence_error"] = -0.1 }, "/convergence_is_fraction", false},
		{"convergence above one", func(p map[string]any) { p["convergence_error"] = 1.5 }, "/convergence_is_fraction", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validReserve()
			tt.mut(p)
			res := c.Check(context.Background(), p)
			assert.Equal(t, tt.valid, res.Valid(), res.Messages())
			if !tt.valid {
				assert.Equal(t, tt.path, res.Errors[0].Path)
			}
		})
	}
}

func TestReserveContract_ConvergenceWarning(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	p := validReserve()
	p["convergence_error"] = 0.2

	res := c.Check(context.Background(), p)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "/converged", res.Warnings[0].Path)
}

func TestReserveContract_ViolationError(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	p := validReserve()
	p["cte70"] = 1.0

	err = c.Check(context.Background(), p).ToError()
	require.Error(t, err)

	var te *schema.ToolkitError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, schema.ErrCodeContractViolation, te.Code)
	assert.Contains(t, err.Error(), "cte70")
}

func TestReserveContract_Concurrent(t *testing.T) {
	c, err := NewReserveContract()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, c.Check(context.Background(), validReserve()).Valid())
		}()
	}
	wg.Wait()
}
