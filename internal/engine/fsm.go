package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// EventAppender receives the events FSMs emit on transitions. Journal is the
// production implementation.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// --- Run FSM ---

// RunFSM validates run lifecycle transitions and emits an event for each.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates a run transition and emits the corresponding event.
// The caller is responsible for applying the new status to the WorkflowState.
func (f *RunFSM) Transition(ctx context.Context, from, to schema.WorkflowStatus, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	if eventType := runEventType(to); eventType != "" {
		event := &schema.Event{Type: eventType, Payload: encodeDetail(detail)}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.WorkflowStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.WorkflowStatus) string {
	switch to {
	case schema.WorkflowStatusRunning:
		return schema.EventRunStarted
	case schema.WorkflowStatusCompleted:
		return schema.EventRunCompleted
	case schema.WorkflowStatusError:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// --- Stage FSM ---

// StageFSM validates stage lifecycle transitions and emits an event for each.
type StageFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewStageFSM creates a StageFSM that emits events via the given appender.
func NewStageFSM(appender EventAppender) *StageFSM {
	return &StageFSM{appender: appender}
}

// Transition validates a stage transition and emits the corresponding event.
// detail, when non-nil, becomes the event payload.
func (f *StageFSM) Transition(ctx context.Context, stage schema.StageName, from, to schema.StageStatus, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStageTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(stage).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	if eventType := stageEventType(to); eventType != "" {
		event := &schema.Event{Stage: stage, Type: eventType, Payload: encodeDetail(detail)}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit stage event: %s", err.Error()).
				WithStage(stage).WithCause(err)
		}
	}
	return nil
}

func isValidStageTransition(from, to schema.StageStatus) bool {
	for _, a := range ValidStageTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func stageEventType(to schema.StageStatus) string {
	switch to {
	case schema.StageStatusRunning:
		return schema.EventStageStarted
	case schema.StageStatusSuccess:
		return schema.EventStageSucceeded
	case schema.StageStatusFailed:
		return schema.EventStageFailed
	case schema.StageStatusSkipped:
		return schema.EventStageSkipped
	default:
		return ""
	}
}

func encodeDetail(detail map[string]any) json.RawMessage {
	if len(detail) == 0 {
		return nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil
	}
	return b
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusIdle:      {schema.WorkflowStatusRunning},
	schema.WorkflowStatusRunning:   {schema.WorkflowStatusCompleted, schema.WorkflowStatusError},
	schema.WorkflowStatusCompleted: {},
	schema.WorkflowStatusError:     {},
}

// ValidStageTransitions defines the allowed state transitions for stages.
// Statuses only move forward; pending may be skipped without running.
var ValidStageTransitions = map[schema.StageStatus][]schema.StageStatus{
	schema.StageStatusPending: {schema.StageStatusRunning, schema.StageStatusSkipped},
	schema.StageStatusRunning: {schema.StageStatusSuccess, schema.StageStatusFailed},
	schema.StageStatusSuccess: {},
	schema.StageStatusFailed:  {},
	schema.StageStatusSkipped: {},
}
