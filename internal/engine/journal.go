package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/streaming"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Journal is the append-only event record of one run. It stamps every event
// with the run identity, a sequence number and a timestamp, and forwards it
// to the hub when one is configured.
type Journal struct {
	runID      string
	scenarioID string
	hub        streaming.EventHub
	logger     *slog.Logger
	now        func() time.Time

	mu  sync.Mutex
	seq int64
}

// NewJournal creates a journal for one run. hub may be nil.
func NewJournal(runID, scenarioID string, hub streaming.EventHub, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		runID:      runID,
		scenarioID: scenarioID,
		hub:        hub,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AppendEvent stamps and records event. Hub delivery is best effort and
// never fails the append.
func (j *Journal) AppendEvent(ctx context.Context, event *schema.Event) error {
	j.mu.Lock()
	j.seq++
	event.RunID = j.runID
	event.ScenarioID = j.scenarioID
	event.Sequence = j.seq
	event.Timestamp = j.now()
	stored := *event
	j.mu.Unlock()

	j.logger.DebugContext(ctx, "run event",
		slog.String("event_type", stored.Type),
		slog.String("stage", string(stored.Stage)),
		slog.Int64("sequence", stored.Sequence),
	)

	if j.hub != nil {
		if err := j.hub.Publish(context.WithoutCancel(ctx), stored); err != nil {
			j.logger.WarnContext(ctx, "publish run event", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Emit appends an event that is not tied to a status transition.
func (j *Journal) Emit(ctx context.Context, stage schema.StageName, eventType string, detail map[string]any) {
	_ = j.AppendEvent(ctx, &schema.Event{Stage: stage, Type: eventType, Payload: encodeDetail(detail)})
}

// RunID returns the identifier stamped on every event.
func (j *Journal) RunID() string {
	return j.runID
}

var _ EventAppender = (*Journal)(nil)
