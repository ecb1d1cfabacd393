package fixtures

// builtinScenarios are the cases shipped with the binary: the four demo
// policies plus one case per orchestration outcome.
var builtinScenarios = []Scenario{
	{
		ID:                  "001_itm",
		PolicyID:            "POL-001-ITM",
		Label:               "In-The-Money (ITM)",
		Description:         "Account value 28.6% above benefit base",
		AccountValue:        450000,
		BenefitBase:         350000,
		Moneyness:           1.286,
		AnnualWithdrawal:    17500,
		TimeToMaturityYears: 15,
		DynamicLapseRate:    0.035,
		ProbabilityInForce:  0.93,
		ReserveImpact:       -4200,
	},
	{
		ID:                  "002_otm",
		PolicyID:            "POL-002-OTM",
		Label:               "Out-The-Money (OTM)",
		Description:         "Account value 20% below benefit base",
		AccountValue:        280000,
		BenefitBase:         350000,
		Moneyness:           0.8,
		AnnualWithdrawal:    14000,
		TimeToMaturityYears: 12,
		DynamicLapseRate:    0.028,
		ProbabilityInForce:  0.95,
		ReserveImpact:       6100,
	},
	{
		ID:                  "003_atm",
		PolicyID:            "POL-003-ATM",
		Label:               "At-The-Money (ATM)",
		Description:         "Account value equals benefit base",
		AccountValue:        350000,
		BenefitBase:         350000,
		Moneyness:           1.0,
		AnnualWithdrawal:    17500,
		TimeToMaturityYears: 20,
		DynamicLapseRate:    0.06,
		ProbabilityInForce:  0.90,
		ReserveImpact:       0,
	},
	{
		ID:                  "004_high_withdrawal",
		PolicyID:            "POL-004-STRESS",
		Label:               "High Withdrawal Stress",
		Description:         "Aggressive withdrawal rate of 8.3% annually",
		AccountValue:        300000,
		BenefitBase:         400000,
		Moneyness:           0.75,
		AnnualWithdrawal:    25000,
		TimeToMaturityYears: 10,
		DynamicLapseRate:    0.09,
		ProbabilityInForce:  0.82,
		ReserveImpact:       9800,
	},
	{
		ID:                  "base_case",
		PolicyID:            "POL-BASE",
		Label:               "Base case",
		Description:         "Standard risk, approved, every stage succeeds",
		ApprovalDecision:    "APPROVE",
		AccountValue:        150000,
		BenefitBase:         150000,
		AnnualWithdrawal:    7500,
		TimeToMaturityYears: 15,
	},
	{
		ID:                  "declined_case",
		PolicyID:            "POL-DECLINED",
		Label:               "Declined applicant",
		Description:         "Underwriting declines; downstream stages are skipped",
		ApprovalDecision:    "DECLINE",
		ConfidenceScore:     0.88,
		RiskClass:           "Uninsurable",
		AccountValue:        200000,
		BenefitBase:         200000,
		TimeToMaturityYears: 10,
	},
	{
		ID:                  "rated_case",
		PolicyID:            "POL-RATED",
		Label:               "Rated applicant",
		Description:         "Substandard risk approved with a rating",
		ApprovalDecision:    "RATED",
		ConfidenceScore:     0.81,
		RiskClass:           "Table 2",
		AccountValue:        220000,
		BenefitBase:         250000,
		AnnualWithdrawal:    11000,
		TimeToMaturityYears: 12,
	},
	{
		ID:                  "reserve_outage",
		PolicyID:            "POL-OUTAGE",
		Label:               "Reserve outage",
		Description:         "Reserve stage fails; behavior succeeds and hedging is skipped",
		ApprovalDecision:    "APPROVE",
		AccountValue:        175000,
		BenefitBase:         160000,
		AnnualWithdrawal:    8000,
		TimeToMaturityYears: 14,
		FailStages:          []string{"reserve"},
	},
}
