package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

func assertPNG(t *testing.T, png []byte) {
	t.Helper()
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRenderImageTopology(t *testing.T) {
	png, err := RenderImage(context.Background(), Build(nil))
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImageWithStatus(t *testing.T) {
	state := finishedState("APPROVE", map[schema.StageName]schema.StageStatus{
		schema.StageUnderwriting: schema.StageStatusSuccess,
		schema.StageReserve:      schema.StageStatusFailed,
		schema.StageBehavior:     schema.StageStatusSuccess,
		schema.StageHedging:      schema.StageStatusSkipped,
	})
	png, err := RenderImage(context.Background(), Build(state))
	require.NoError(t, err)
	assertPNG(t, png)
}
