package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/engine"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/fixtures"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/logging"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/stages"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

func runScenario(t *testing.T, id string) *schema.WorkflowState {
	t.Helper()
	contract, err := validation.NewReserveContract()
	require.NoError(t, err)
	reg, err := stages.NewFixtureRegistry(fixtures.Builtin(), contract)
	require.NoError(t, err)
	o, err := engine.NewOrchestrator(engine.Options{Registry: reg, Logger: logging.Discard()})
	require.NoError(t, err)
	state, _ := o.Run(context.Background(), id, schema.ModeOffline)
	require.NotNil(t, state)
	return state
}

func newSummarizer(t *testing.T) *Summarizer {
	t.Helper()
	contract, err := validation.NewReserveContract()
	require.NoError(t, err)
	return NewSummarizer(contract)
}

func TestSummarize_BaseCase(t *testing.T) {
	sum, err := newSummarizer(t).Summarize(context.Background(), runScenario(t, "base_case"))
	require.NoError(t, err)

	assert.Equal(t, "base_case", sum.ScenarioID)
	assert.Equal(t, schema.ModeOffline, sum.Mode)
	assert.Equal(t, schema.WorkflowStatusCompleted, sum.Status)
	assert.Equal(t, "APPROVE", sum.Decision)

	require.Len(t, sum.Stages, 4)
	for i, line := range sum.Stages {
		assert.Equal(t, schema.Stages[i], line.Stage)
		assert.Equal(t, schema.StageStatusSuccess, line.Status)
		assert.Empty(t, line.Error)
	}

	assert.Equal(t, "POL-BASE", sum.Metrics["policy_id"])
	assert.InDelta(t, 15000.0, sum.Metrics["cte70"], 1e-9)
	assert.InDelta(t, 3000.0, sum.Metrics["tail_margin"], 1e-9)
	assert.InDelta(t, 750.0, sum.Metrics["hedge_cost"], 1e-9)
	assert.Equal(t, "Buy put spreads", sum.Metrics["hedge_recommendation"])
	assert.Empty(t, sum.ContractIssues)
	assert.Empty(t, sum.Errors)
	assert.Contains(t, sum.Diagram, "[OK]")
}

func TestSummarize_DistinguishesFailedAndSkipped(t *testing.T) {
	sum, err := newSummarizer(t).Summarize(context.Background(), runScenario(t, "reserve_outage"))
	require.NoError(t, err)

	byStage := map[schema.StageName]StageLine{}
	for _, line := range sum.Stages {
		byStage[line.Stage] = line
	}
	assert.Equal(t, schema.StageStatusFailed, byStage[schema.StageReserve].Status)
	assert.Contains(t, byStage[schema.StageReserve].Error, "simulated outage")
	assert.Equal(t, schema.StageStatusSkipped, byStage[schema.StageHedging].Status)
	assert.Empty(t, byStage[schema.StageHedging].Error)
	assert.Equal(t, schema.StageStatusSuccess, byStage[schema.StageBehavior].Status)

	assert.NotContains(t, sum.Metrics, "cte70")
	assert.NotContains(t, sum.Metrics, "tail_margin")
	assert.NotContains(t, sum.Metrics, "hedge_cost")
	assert.Contains(t, sum.Metrics, "dynamic_lapse_rate")
	require.Len(t, sum.Errors, 1)
}

func TestSummarize_Declined(t *testing.T) {
	sum, err := newSummarizer(t).Summarize(context.Background(), runScenario(t, "declined_case"))
	require.NoError(t, err)

	assert.Equal(t, "DECLINE", sum.Decision)
	for _, line := range sum.Stages[1:] {
		assert.Equal(t, schema.StageStatusSkipped, line.Status)
	}
	assert.Contains(t, sum.Diagram, "[STOP]")
}

func TestSummarize_ContractRecheck(t *testing.T) {
	state := runScenario(t, "base_case")
	state.Result(schema.StageReserve).Payload["convergence_error"] = 0.2
	state.Result(schema.StageReserve).Payload["cte70"] = 1.0

	sum, err := newSummarizer(t).Summarize(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, sum.ContractIssues, 1)
	assert.Contains(t, sum.ContractIssues[0], "tail_dominates_mean")
	require.Len(t, sum.ContractWarnings, 1)
	assert.Contains(t, sum.ContractWarnings[0], "converged")
}

func TestSummarize_NilState(t *testing.T) {
	_, err := NewSummarizer(nil).Summarize(context.Background(), nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSummarize_FatalRun(t *testing.T) {
	state := schema.NewWorkflowState(schema.ExecutionContext{ScenarioID: "x", Mode: schema.ModeOnline})
	state.Status = schema.WorkflowStatusError
	state.Result(schema.StageUnderwriting).Status = schema.StageStatusFailed
	state.Result(schema.StageUnderwriting).Error = "[UNAVAILABLE] online"

	sum, err := NewSummarizer(nil).Summarize(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, sum.Decision)
	assert.Empty(t, sum.Metrics)
	assert.Equal(t, schema.StageStatusPending, sum.Stages[1].Status)
}

func TestWriteJSON(t *testing.T) {
	sum, err := newSummarizer(t).Summarize(context.Background(), runScenario(t, "base_case"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sum))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded["overall_status"])
	assert.Equal(t, "APPROVE", decoded["approval_decision"])
	assert.NotContains(t, decoded, "Diagram")
	assert.Len(t, decoded["stages"], 4)
}

func TestWriteText(t *testing.T) {
	sum, err := newSummarizer(t).Summarize(context.Background(), runScenario(t, "reserve_outage"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sum))
	out := buf.String()

	assert.Contains(t, out, "reserve_outage (offline)")
	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "simulated outage")
	assert.Contains(t, out, "dynamic_lapse_rate")
	assert.Contains(t, out, "[FAIL]")
}

func TestWriteBatchText(t *testing.T) {
	s := newSummarizer(t)
	base, err := s.Summarize(context.Background(), runScenario(t, "base_case"))
	require.NoError(t, err)
	declined, err := s.Summarize(context.Background(), runScenario(t, "declined_case"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteBatchText(&buf, []BatchRow{
		{ScenarioID: "base_case", Summary: base},
		{ScenarioID: "declined_case", Summary: declined},
		{ScenarioID: "", Error: "[VALIDATION_ERROR] scenario id is empty"},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "HEDGING")
	assert.Contains(t, lines[1], "APPROVE")
	assert.Equal(t, 4, strings.Count(lines[1], "success"))
	assert.Contains(t, lines[2], "DECLINE")
	assert.Equal(t, 3, strings.Count(lines[2], "skipped"))
	assert.Contains(t, lines[3], "rejected")
	assert.Contains(t, lines[3], "scenario id is empty")
}
