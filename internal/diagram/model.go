package diagram

// NodeKind classifies a diagram node by the role it plays in the pipeline.
type NodeKind string

const (
	NodeKindStage NodeKind = "stage"
	NodeKindGate  NodeKind = "gate"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// Gate overlay statuses. Stage nodes carry schema.StageStatus values.
const (
	GateProceed = "proceed"
	GateDecline = "decline"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a stage, the gate, or a virtual start/end marker.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge represents a dependency between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
