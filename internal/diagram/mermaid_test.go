package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

func TestRenderMermaidTopology(t *testing.T) {
	output := RenderMermaid(Build(nil))

	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% Annuity pipeline")

	assert.Contains(t, output, "underwriting[")
	assert.Contains(t, output, "reserve[")
	assert.Contains(t, output, "gate{")
	assert.Contains(t, output, "__start__((")
	assert.Contains(t, output, "__end__((")

	assert.Contains(t, output, "gate -->|proceed| reserve")
	assert.Contains(t, output, "gate -->|decline| __end__")
	assert.Contains(t, output, "reserve -->|payload| hedging")

	assert.Contains(t, output, "classDef success")
	assert.Contains(t, output, "classDef failed")
	assert.NotContains(t, output, "class underwriting")
}

func TestRenderMermaidWithStatus(t *testing.T) {
	state := finishedState("DECLINE", map[schema.StageName]schema.StageStatus{
		schema.StageUnderwriting: schema.StageStatusSuccess,
		schema.StageReserve:      schema.StageStatusSkipped,
		schema.StageBehavior:     schema.StageStatusSkipped,
		schema.StageHedging:      schema.StageStatusSkipped,
	})
	output := RenderMermaid(Build(state))

	assert.Contains(t, output, "class underwriting success")
	assert.Contains(t, output, "class gate skipped")
	assert.Contains(t, output, "class hedging skipped")
	assert.Contains(t, output, `"approval gate (DECLINE)"`)
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d", mermaidSafeID("a.b-c d"))
}
