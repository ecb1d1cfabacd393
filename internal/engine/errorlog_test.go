package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

func TestErrorLog_AppendOncePerStage(t *testing.T) {
	l := NewErrorLog()
	now := time.Now()

	require.NoError(t, l.Append(schema.StageReserve, "down", now))
	require.NoError(t, l.Append(schema.StageBehavior, "bad curve", now))

	err := l.Append(schema.StageReserve, "again", now)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	recs := l.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, schema.StageReserve, recs[0].Stage)
	assert.Equal(t, "down", recs[0].Message)
	assert.Equal(t, schema.StageBehavior, recs[1].Stage)
}

func TestErrorLog_RecordsIsSnapshot(t *testing.T) {
	l := NewErrorLog()
	require.NoError(t, l.Append(schema.StageHedging, "x", time.Now()))

	recs := l.Records()
	recs[0].Message = "mutated"
	assert.Equal(t, "x", l.Records()[0].Message)
}

func TestErrorLog_Clear(t *testing.T) {
	l := NewErrorLog()
	require.NoError(t, l.Append(schema.StageUnderwriting, "x", time.Now()))
	l.Clear()

	assert.Equal(t, 0, l.Len())
	assert.NotNil(t, l.Records())
	assert.NoError(t, l.Append(schema.StageUnderwriting, "y", time.Now()))
}

func TestErrorLog_Concurrent(t *testing.T) {
	l := NewErrorLog()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Append(schema.StageReserve, "race", time.Now())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, l.Len())
}
