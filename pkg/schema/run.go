package schema

import (
	"fmt"
	"strings"
	"time"
)

// StageName identifies one of the four pipeline stages.
type StageName string

const (
	StageUnderwriting StageName = "underwriting"
	StageReserve      StageName = "reserve"
	StageBehavior     StageName = "behavior"
	StageHedging      StageName = "hedging"
)

// Stages lists every stage in pipeline order.
var Stages = []StageName{StageUnderwriting, StageReserve, StageBehavior, StageHedging}

// Valid reports whether n names a known stage.
func (n StageName) Valid() bool {
	for _, s := range Stages {
		if s == n {
			return true
		}
	}
	return false
}

// Mode selects whether stage executors use recorded fixtures or live services.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// ParseMode accepts "offline" or "online" (case-insensitive). Empty means offline.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeOffline):
		return ModeOffline, nil
	case string(ModeOnline):
		return ModeOnline, nil
	default:
		return "", NewErrorf(ErrCodeValidation, "unknown mode %q (want offline or online)", s)
	}
}

// ApprovalDecision is the gating field exposed by the underwriting payload.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "APPROVE"
	DecisionDecline ApprovalDecision = "DECLINE"
	DecisionRated   ApprovalDecision = "RATED"
)

// ApprovalDecisionKey is the payload key the gate reads.
const ApprovalDecisionKey = "approval_decision"

// ParseApprovalDecision converts a raw payload value into an ApprovalDecision.
func ParseApprovalDecision(v any) (ApprovalDecision, error) {
	s, ok := v.(string)
	if !ok {
		return "", NewErrorf(ErrCodeContractViolation, "%s must be a string, got %T", ApprovalDecisionKey, v)
	}
	switch d := ApprovalDecision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionDecline, DecisionRated:
		return d, nil
	default:
		return "", NewErrorf(ErrCodeContractViolation, "unknown %s %q", ApprovalDecisionKey, s)
	}
}

// ExecutionContext is created once per run and never modified afterwards.
type ExecutionContext struct {
	ScenarioID string    `json:"scenario_id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
}

// StageOutcome is what a stage executor hands back to the orchestrator.
type StageOutcome struct {
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(payload map[string]any) *StageOutcome {
	return &StageOutcome{Success: true, Payload: payload}
}

// Failed builds a failed outcome with a formatted message.
func Failed(format string, args ...any) *StageOutcome {
	return &StageOutcome{Error: fmt.Sprintf(format, args...)}
}

// StageResult records what happened to one stage during one run.
type StageResult struct {
	Stage       StageName      `json:"stage_name"`
	Status      StageStatus    `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ErrorRecord is one entry of a run's error log.
type ErrorRecord struct {
	Stage     StageName `json:"stage_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the per-run record handed back to callers. It is read-only
// once Status is terminal.
type WorkflowState struct {
	Context     ExecutionContext           `json:"context"`
	Results     map[StageName]*StageResult `json:"results"`
	Status      WorkflowStatus             `json:"overall_status"`
	Errors      []ErrorRecord              `json:"errors"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

// NewWorkflowState returns an idle state with every stage pending.
func NewWorkflowState(ec ExecutionContext) *WorkflowState {
	results := make(map[StageName]*StageResult, len(Stages))
	for _, s := range Stages {
		results[s] = &StageResult{Stage: s, Status: StageStatusPending}
	}
	return &WorkflowState{
		Context: ec,
		Results: results,
		Status:  WorkflowStatusIdle,
		Errors:  []ErrorRecord{},
	}
}

// Result returns the result slot for stage, or nil for an unknown stage.
func (w *WorkflowState) Result(stage StageName) *StageResult {
	if w == nil {
		return nil
	}
	return w.Results[stage]
}

// StatusOf returns the status of stage, or "" if unknown.
func (w *WorkflowState) StatusOf(stage StageName) StageStatus {
	if r := w.Result(stage); r != nil {
		return r.Status
	}
	return ""
}

// Normalized returns a deep copy with every timestamp cleared, so two runs of
// the same deterministic scenario compare equal.
func (w *WorkflowState) Normalized() *WorkflowState {
	if w == nil {
		return nil
	}
	out := &WorkflowState{
		Context: ExecutionContext{ScenarioID: w.Context.ScenarioID, Mode: w.Context.Mode},
		Results: make(map[StageName]*StageResult, len(w.Results)),
		Status:  w.Status,
		Errors:  make([]ErrorRecord, len(w.Errors)),
	}
	for name, r := range w.Results {
		out.Results[name] = &StageResult{
			Stage:   r.Stage,
			Status:  r.Status,
			Payload: CopyPayload(r.Payload),
			Error:   r.Error,
		}
	}
	for i, rec := range w.Errors {
		out.Errors[i] = ErrorRecord{Stage: rec.Stage, Message: rec.Message}
	}
	return out
}

// CopyPayload deep-copies a payload map so the copy shares no mutable state.
func CopyPayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyPayload(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = copyValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	default:
		return val
	}
}
