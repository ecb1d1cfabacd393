package streaming

import (
	"context"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	ScenarioID string   `json:"scenario_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event schema.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.Event, func(), error)
}

// IsRunTerminal reports whether e is the last event a run emits.
func IsRunTerminal(e schema.Event) bool {
	return e.Type == schema.EventRunCompleted || e.Type == schema.EventRunFailed
}
