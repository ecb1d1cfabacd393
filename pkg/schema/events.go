package schema

import (
	"encoding/json"
	"time"
)

// Event type constants for the run event stream.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventStageStarted   = "stage_started"
	EventStageSucceeded = "stage_succeeded"
	EventStageFailed    = "stage_failed"
	EventStageSkipped   = "stage_skipped"

	EventGateEvaluated   = "gate_evaluated"
	EventParallelStarted = "parallel_started"
	EventParallelJoined  = "parallel_joined"
)

// Event is an immutable entry in a run's event stream.
type Event struct {
	RunID      string          `json:"run_id"`
	ScenarioID string          `json:"scenario_id"`
	Stage      StageName       `json:"stage,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// WorkflowStatus represents the lifecycle state of a run.
type WorkflowStatus string

const (
	WorkflowStatusIdle      WorkflowStatus = "idle"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusError     WorkflowStatus = "error"
)

// IsTerminal reports whether no further transitions are possible.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusError
}

// StageStatus represents the lifecycle state of a stage within a run.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// IsTerminal reports whether the stage has finished, one way or another.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusSuccess || s == StageStatusFailed || s == StageStatusSkipped
}
