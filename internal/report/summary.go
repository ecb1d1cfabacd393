package report

import (
	"context"
	"fmt"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/diagram"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/expressions"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Projection names a headline metric and the jq query that extracts it from
// the JSON form of a WorkflowState.
type Projection struct {
	Name  string
	Query string
}

// Projections are the headline metrics, in display order. A query that
// yields null or nothing leaves the metric out.
var Projections = []Projection{
	{Name: "policy_id", Query: `.results.underwriting.payload.policy_id`},
	{Name: "risk_class", Query: `.results.underwriting.payload.risk_class`},
	{Name: "confidence_score", Query: `.results.underwriting.payload.confidence_score`},
	{Name: "mean_reserve", Query: `.results.reserve.payload.mean_reserve`},
	{Name: "cte70", Query: `.results.reserve.payload.cte70`},
	{Name: "tail_margin", Query: `.results.reserve.payload | select(. != null) | .cte70 - .mean_reserve`},
	{Name: "scenario_count", Query: `.results.reserve.payload.scenario_count`},
	{Name: "convergence_error", Query: `.results.reserve.payload.convergence_error`},
	{Name: "moneyness", Query: `.results.behavior.payload.moneyness`},
	{Name: "dynamic_lapse_rate", Query: `.results.behavior.payload.dynamic_lapse_rate`},
	{Name: "probability_in_force", Query: `.results.behavior.payload.probability_in_force`},
	{Name: "withdrawal_rate", Query: `.results.behavior.payload.withdrawal_rate`},
	{Name: "delta", Query: `.results.hedging.payload.delta`},
	{Name: "hedge_cost", Query: `.results.hedging.payload.hedge_cost`},
	{Name: "hedge_recommendation", Query: `.results.hedging.payload.hedge_recommendation`},
}

const decisionQuery = `.results.underwriting.payload.approval_decision // empty`

// StageLine is one row of the per-stage table.
type StageLine struct {
	Stage  schema.StageName   `json:"stage"`
	Status schema.StageStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Summary is the presentation form of a finished run. Failed, skipped and
// successful stages stay distinguishable.
type Summary struct {
	ScenarioID       string                `json:"scenario_id"`
	Mode             schema.Mode           `json:"mode"`
	Status           schema.WorkflowStatus `json:"overall_status"`
	Decision         string                `json:"approval_decision,omitempty"`
	Stages           []StageLine           `json:"stages"`
	Metrics          map[string]any        `json:"metrics,omitempty"`
	Errors           []schema.ErrorRecord  `json:"errors"`
	ContractIssues   []string              `json:"contract_issues,omitempty"`
	ContractWarnings []string              `json:"contract_warnings,omitempty"`
	Diagram          string                `json:"-"`
}

// Summarizer turns WorkflowStates into Summaries. Safe for concurrent use.
type Summarizer struct {
	jq       *expressions.GoJQEngine
	contract validation.PayloadChecker
}

// NewSummarizer creates a Summarizer. contract, when non-nil, is re-checked
// against every successful Reserve payload.
func NewSummarizer(contract validation.PayloadChecker) *Summarizer {
	return &Summarizer{jq: expressions.NewGoJQEngine(), contract: contract}
}

// Summarize projects state into a Summary.
func (s *Summarizer) Summarize(ctx context.Context, state *schema.WorkflowState) (*Summary, error) {
	if state == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow state to summarize")
	}
	data, err := expressions.ToJSONMap(state)
	if err != nil {
		return nil, fmt.Errorf("encode workflow state: %w", err)
	}

	out := &Summary{
		ScenarioID: state.Context.ScenarioID,
		Mode:       state.Context.Mode,
		Status:     state.Status,
		Errors:     append([]schema.ErrorRecord{}, state.Errors...),
		Metrics:    make(map[string]any),
		Diagram:    diagram.RenderASCII(diagram.Build(state)),
	}

	decision, err := s.jq.Evaluate(ctx, decisionQuery, data)
	if err != nil {
		return nil, err
	}
	if d, ok := decision.(string); ok {
		out.Decision = d
	}

	for _, stage := range schema.Stages {
		line, err := s.stageLine(ctx, stage, data)
		if err != nil {
			return nil, err
		}
		out.Stages = append(out.Stages, line)
	}

	for _, p := range Projections {
		v, err := s.jq.Evaluate(ctx, p.Query, data)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", p.Name, err)
		}
		if v == nil || v == "" {
			continue
		}
		out.Metrics[p.Name] = v
	}

	if s.contract != nil && state.StatusOf(schema.StageReserve) == schema.StageStatusSuccess {
		res := s.contract.Check(ctx, state.Result(schema.StageReserve).Payload)
		out.ContractIssues = res.Messages()
		for _, w := range res.Warnings {
			out.ContractWarnings = append(out.ContractWarnings, fmt.Sprintf("%s: %s", w.Path, w.Message))
		}
	}
	return out, nil
}

func (s *Summarizer) stageLine(ctx context.Context, stage schema.StageName, data map[string]any) (StageLine, error) {
	query := fmt.Sprintf(`.results.%s | [.status, (.error // "")]`, stage)
	v, err := s.jq.Evaluate(ctx, query, data)
	if err != nil {
		return StageLine{}, err
	}
	line := StageLine{Stage: stage}
	if pair, ok := v.([]any); ok && len(pair) == 2 {
		status, _ := pair[0].(string)
		msg, _ := pair[1].(string)
		line.Status = schema.StageStatus(status)
		line.Error = msg
	}
	return line, nil
}
