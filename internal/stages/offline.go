package stages

import (
	"context"
	"encoding/json"
	"math"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/fixtures"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Input keys shared by the orchestrator and the executors.
const (
	InputScenarioID   = "scenario_id"
	InputMode         = "mode"
	InputUnderwriting = "underwriting"
)

// Offline pricing constants. These replay recorded results; they are not an
// actuarial model.
const (
	meanReserveRate  = 0.08
	guaranteeGapRate = 0.25
	tailLoading      = 1.25
	hedgeCostRate    = 0.005
)

type computeFunc func(s *fixtures.Scenario, input map[string]any) (map[string]any, error)

// fixtureStage replays a stage from the scenario catalog.
type fixtureStage struct {
	stage   schema.StageName
	catalog *fixtures.Catalog
	compute computeFunc
}

func (f *fixtureStage) Name() schema.StageName { return f.stage }

func (f *fixtureStage) Execute(ctx context.Context, input map[string]any) (*schema.StageOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modeStr, _ := input[InputMode].(string)
	mode, err := schema.ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	if mode == schema.ModeOnline {
		return nil, schema.NewErrorf(schema.ErrCodeUnavailable,
			"%s: online mode is not available for fixture-backed executors", f.stage).WithStage(f.stage)
	}

	id, _ := input[InputScenarioID].(string)
	if id == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: input has no %s", f.stage, InputScenarioID).
			WithStage(f.stage)
	}
	s, err := f.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	if s.FailsAt(f.stage) {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"%s: simulated outage for scenario %s", f.stage, s.ID).WithStage(f.stage)
	}

	payload, err := f.compute(s, input)
	if err != nil {
		return nil, err
	}
	return schema.Succeeded(payload), nil
}

// NewUnderwriting replays the underwriting decision recorded in the fixture.
func NewUnderwriting(catalog *fixtures.Catalog) Executor {
	return &fixtureStage{stage: schema.StageUnderwriting, catalog: catalog, compute: computeUnderwriting}
}

// NewReserve replays reserve metrics derived from the fixture.
func NewReserve(catalog *fixtures.Catalog) Executor {
	return &fixtureStage{stage: schema.StageReserve, catalog: catalog, compute: computeReserve}
}

// NewBehavior replays policyholder behavior assumptions from the fixture.
func NewBehavior(catalog *fixtures.Catalog) Executor {
	return &fixtureStage{stage: schema.StageBehavior, catalog: catalog, compute: computeBehavior}
}

// NewHedging computes hedge metrics from the reserve payload alone. The
// scenario_id and mode it reads are the provenance fields Reserve copies into
// its payload.
func NewHedging(catalog *fixtures.Catalog) Executor {
	return &fixtureStage{stage: schema.StageHedging, catalog: catalog, compute: computeHedging}
}

// NewFixtureRegistry registers the four offline executors. When contract is
// non-nil the reserve executor is wrapped with it.
func NewFixtureRegistry(catalog *fixtures.Catalog, contract validation.PayloadChecker) (*Registry, error) {
	reserve := NewReserve(catalog)
	if contract != nil {
		reserve = WithContract(reserve, contract)
	}

	r := NewRegistry()
	for _, exec := range []Executor{NewUnderwriting(catalog), reserve, NewBehavior(catalog), NewHedging(catalog)} {
		if err := r.Register(exec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func computeUnderwriting(s *fixtures.Scenario, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"policy_id":                s.PolicyID,
		"product":                  s.Product,
		schema.ApprovalDecisionKey: s.ApprovalDecision,
		"confidence_score":         s.ConfidenceScore,
		"risk_class":               s.RiskClass,
	}, nil
}

func computeReserve(s *fixtures.Scenario, input map[string]any) (map[string]any, error) {
	if _, ok := input[InputUnderwriting].(map[string]any); !ok {
		return nil, schema.NewError(schema.ErrCodeDependencyNotMet, "reserve: underwriting payload missing from input").
			WithStage(schema.StageReserve)
	}

	gap := math.Max(s.BenefitBase-s.AccountValue, 0)
	mean := round(s.AccountValue*meanReserveRate+gap*guaranteeGapRate, 2)
	return map[string]any{
		InputScenarioID:     s.ID,
		InputMode:           string(schema.ModeOffline),
		"policy_id":         s.PolicyID,
		"account_value":     s.AccountValue,
		"benefit_base":      s.BenefitBase,
		"mean_reserve":      mean,
		"cte70":             round(mean*tailLoading, 2),
		"scenario_count":    s.NumScenarios,
		"convergence_error": round(1/math.Sqrt(float64(s.NumScenarios)), 4),
		"seed":              s.Seed,
	}, nil
}

func computeBehavior(s *fixtures.Scenario, input map[string]any) (map[string]any, error) {
	if _, ok := input[InputUnderwriting].(map[string]any); !ok {
		return nil, schema.NewError(schema.ErrCodeDependencyNotMet, "behavior: underwriting payload missing from input").
			WithStage(schema.StageBehavior)
	}
	return map[string]any{
		"policy_id":            s.PolicyID,
		"moneyness":            s.Moneyness,
		"dynamic_lapse_rate":   s.DynamicLapseRate,
		"probability_in_force": s.ProbabilityInForce,
		"reserve_impact":       s.ReserveImpact,
		"withdrawal_rate":      round(s.WithdrawalRate(), 4),
	}, nil
}

func computeHedging(s *fixtures.Scenario, input map[string]any) (map[string]any, error) {
	av, ok := toFloat(input["account_value"])
	if !ok {
		return nil, schema.NewError(schema.ErrCodeDependencyNotMet, "hedging: reserve payload has no account_value").
			WithStage(schema.StageHedging)
	}
	return map[string]any{
		"policy_id":            s.PolicyID,
		"portfolio_value":      av,
		"delta":                -0.65,
		"gamma":                0.002,
		"vega":                 0.15,
		"hedge_recommendation": "Buy put spreads",
		"hedge_cost":           round(av*hedgeCostRate, 2),
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
