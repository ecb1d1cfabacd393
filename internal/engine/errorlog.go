package engine

import (
	"sync"
	"time"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// ErrorLog is the append-only failure list of one run. It holds at most one
// record per stage.
type ErrorLog struct {
	mu      sync.Mutex
	records []schema.ErrorRecord
	seen    map[schema.StageName]bool
}

// NewErrorLog creates an empty log.
func NewErrorLog() *ErrorLog {
	return &ErrorLog{seen: make(map[schema.StageName]bool)}
}

// Append records a failure of stage. A second record for the same stage is
// rejected with CONFLICT.
func (l *ErrorLog) Append(stage schema.StageName, message string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[stage] {
		return schema.NewErrorf(schema.ErrCodeConflict, "failure of stage %s already logged", stage).WithStage(stage)
	}
	l.seen[stage] = true
	l.records = append(l.records, schema.ErrorRecord{Stage: stage, Message: message, Timestamp: at})
	return nil
}

// Clear empties the log.
func (l *ErrorLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.seen = make(map[schema.StageName]bool)
}

// Records returns a snapshot of the log, in append order. Never nil.
func (l *ErrorLog) Records() []schema.ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.ErrorRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
