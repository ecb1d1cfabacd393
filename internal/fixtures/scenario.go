package fixtures

import (
	"math"
	"strings"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Defaults applied to fields a fixture leaves unset.
const (
	DefaultProduct            = "VA-GLWB"
	DefaultConfidenceScore    = 0.95
	DefaultRiskClass          = "Standard"
	DefaultNumScenarios       = 1000
	DefaultSeed               = 42
	DefaultDynamicLapseRate   = 0.06
	DefaultProbabilityInForce = 0.90
)

// Scenario is one recorded policy case the offline stage executors replay.
type Scenario struct {
	ID                  string   `json:"id" yaml:"id"`
	PolicyID            string   `json:"policy_id" yaml:"policy_id"`
	Product             string   `json:"product,omitempty" yaml:"product"`
	Label               string   `json:"label,omitempty" yaml:"label"`
	Description         string   `json:"description,omitempty" yaml:"description"`
	ApprovalDecision    string   `json:"approval_decision" yaml:"approval_decision"`
	ConfidenceScore     float64  `json:"confidence_score,omitempty" yaml:"confidence_score"`
	RiskClass           string   `json:"risk_class,omitempty" yaml:"risk_class"`
	AccountValue        float64  `json:"account_value" yaml:"account_value"`
	BenefitBase         float64  `json:"benefit_base" yaml:"benefit_base"`
	Moneyness           float64  `json:"moneyness,omitempty" yaml:"moneyness"`
	AnnualWithdrawal    float64  `json:"annual_withdrawal,omitempty" yaml:"annual_withdrawal"`
	TimeToMaturityYears float64  `json:"time_to_maturity_years,omitempty" yaml:"time_to_maturity_years"`
	DynamicLapseRate    float64  `json:"dynamic_lapse_rate,omitempty" yaml:"dynamic_lapse_rate"`
	ProbabilityInForce  float64  `json:"probability_in_force,omitempty" yaml:"probability_in_force"`
	ReserveImpact       float64  `json:"reserve_impact,omitempty" yaml:"reserve_impact"`
	NumScenarios        int      `json:"num_scenarios,omitempty" yaml:"num_scenarios"`
	Seed                int64    `json:"seed,omitempty" yaml:"seed"`
	FailStages          []string `json:"fail_stages,omitempty" yaml:"fail_stages"`
}

// Normalized returns a copy with defaults filled in and the decision
// upper-cased. Moneyness is derived from account value and benefit base when
// not given.
func (s Scenario) Normalized() *Scenario {
	out := s
	out.FailStages = append([]string(nil), s.FailStages...)
	out.ID = strings.TrimSpace(out.ID)
	out.ApprovalDecision = strings.ToUpper(strings.TrimSpace(out.ApprovalDecision))
	if out.ApprovalDecision == "" {
		out.ApprovalDecision = string(schema.DecisionApprove)
	}
	if out.PolicyID == "" {
		out.PolicyID = "POL-" + strings.ToUpper(out.ID)
	}
	if out.Product == "" {
		out.Product = DefaultProduct
	}
	if out.ConfidenceScore == 0 {
		out.ConfidenceScore = DefaultConfidenceScore
	}
	if out.RiskClass == "" {
		out.RiskClass = DefaultRiskClass
	}
	if out.Moneyness == 0 && out.BenefitBase > 0 {
		out.Moneyness = math.Round(out.AccountValue/out.BenefitBase*1000) / 1000
	}
	if out.DynamicLapseRate == 0 {
		out.DynamicLapseRate = DefaultDynamicLapseRate
	}
	if out.ProbabilityInForce == 0 {
		out.ProbabilityInForce = DefaultProbabilityInForce
	}
	if out.NumScenarios == 0 {
		out.NumScenarios = DefaultNumScenarios
	}
	if out.Seed == 0 {
		out.Seed = DefaultSeed
	}
	return &out
}

// FailsAt reports whether the fixture injects a failure into stage.
func (s *Scenario) FailsAt(stage schema.StageName) bool {
	for _, f := range s.FailStages {
		if strings.EqualFold(strings.TrimSpace(f), string(stage)) {
			return true
		}
	}
	return false
}

// WithdrawalRate is the annual withdrawal as a fraction of account value.
func (s *Scenario) WithdrawalRate() float64 {
	if s.AccountValue == 0 {
		return 0
	}
	return s.AnnualWithdrawal / s.AccountValue
}
