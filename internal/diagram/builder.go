package diagram

import (
	"fmt"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
	gateID  = "gate"
)

// Build constructs the pipeline diagram. When state is non-nil every node
// carries the status it reached in that run.
func Build(state *schema.WorkflowState) *DiagramModel {
	nodes := []*Node{
		{ID: startID, Label: "Start", Kind: NodeKindStart},
		stageNode(schema.StageUnderwriting, state),
		gateNode(state),
		stageNode(schema.StageReserve, state),
		stageNode(schema.StageBehavior, state),
		stageNode(schema.StageHedging, state),
		{ID: endID, Label: "End", Kind: NodeKindEnd},
	}

	edges := []Edge{
		{From: startID, To: string(schema.StageUnderwriting)},
		{From: string(schema.StageUnderwriting), To: gateID},
		{From: gateID, To: string(schema.StageReserve), Label: GateProceed},
		{From: gateID, To: string(schema.StageBehavior), Label: GateProceed},
		{From: gateID, To: endID, Label: GateDecline},
		{From: string(schema.StageReserve), To: string(schema.StageHedging), Label: "payload"},
		{From: string(schema.StageBehavior), To: string(schema.StageHedging), Label: "join"},
		{From: string(schema.StageHedging), To: endID},
	}

	levels := [][]string{
		{startID},
		{string(schema.StageUnderwriting)},
		{gateID},
		{string(schema.StageReserve), string(schema.StageBehavior)},
		{string(schema.StageHedging)},
		{endID},
	}

	return &DiagramModel{
		Title:  title(state),
		Nodes:  nodes,
		Edges:  edges,
		Levels: levels,
	}
}

func stageNode(stage schema.StageName, state *schema.WorkflowState) *Node {
	node := &Node{ID: string(stage), Label: string(stage), Kind: NodeKindStage}
	res := state.Result(stage)
	if res == nil {
		return node
	}
	overlay := &StatusOverlay{Status: string(res.Status), Error: res.Error}
	if res.StartedAt != nil && res.CompletedAt != nil {
		overlay.DurationMs = res.CompletedAt.Sub(*res.StartedAt).Milliseconds()
	}
	node.Status = overlay
	return node
}

// gateNode shows the underwriting decision. The gate has a status only once
// Underwriting succeeded.
func gateNode(state *schema.WorkflowState) *Node {
	node := &Node{ID: gateID, Label: "approval gate", Kind: NodeKindGate}
	uw := state.Result(schema.StageUnderwriting)
	if uw == nil || uw.Status != schema.StageStatusSuccess {
		return node
	}
	if d, ok := uw.Payload[schema.ApprovalDecisionKey].(string); ok {
		node.Label = fmt.Sprintf("approval gate\n(%s)", d)
	}
	status := GateProceed
	if state.StatusOf(schema.StageReserve) == schema.StageStatusSkipped {
		status = GateDecline
	}
	node.Status = &StatusOverlay{Status: status}
	return node
}

func title(state *schema.WorkflowState) string {
	if state == nil || state.Context.ScenarioID == "" {
		return "Annuity pipeline"
	}
	return fmt.Sprintf("Annuity pipeline: %s (%s)", state.Context.ScenarioID, state.Status)
}
