package schemas

// Node types
const (
	NodeInput     = "input"
	NodeOperation = "operation"
	NodeOutput    = "output"
)

// ProcessingPlan is an engine-agnostic composite graph. It holds no
// timestamps or random identifiers: planning identical inputs twice yields
// identical plans.
type ProcessingPlan struct {
	JobID  string `json:"job_id,omitempty"`
	Canvas Canvas `json:"canvas"`

	// Execution plan
	Nodes          []*PlanNode `json:"nodes"`
	Edges          []*PlanEdge `json:"edges"`
	ExecutionOrder []string    `json:"execution_order"`

	// Inputs in stream-index order: 0 is the base, 1..N the layer
	// sources in z-order, N+1 the frame overlay when present
	Inputs []PlanInput `json:"inputs"`

	// SkippedSlots lists slots dropped for lack of media
	SkippedSlots []string `json:"skipped_slots,omitempty"`
}

// PlanNode represents a node in the composite DAG
type PlanNode struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "input", "operation", "output"

	// For input nodes
	InputIndex int `json:"input_index,omitempty"`

	// For operation nodes
	Operator string                 `json:"operator,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`

	// SlotID ties layer nodes back to the layout
	SlotID string `json:"slot_id,omitempty"`
}

// PlanEdge connects two nodes. Edges into a node are ordered: for an overlay
// the first edge is the accumulated canvas, the second the layer on top.
type PlanEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// InputKind says how the engine should open an input
type InputKind string

const (
	InputColor InputKind = "color" // synthetic solid-color base
	InputImage InputKind = "image" // still, looped for the composite duration
	InputVideo InputKind = "video" // clip, optionally looped
	InputFrame InputKind = "frame" // frame overlay still
)

// PlanInput is one engine input
type PlanInput struct {
	Index  int       `json:"index"`
	Kind   InputKind `json:"kind"`
	Source string    `json:"source,omitempty"`
	NodeID string    `json:"node_id"`
	SlotID string    `json:"slot_id,omitempty"`

	// Width and Height are the native size of the source
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Color is the base fill for InputColor
	Color string `json:"color,omitempty"`
}

// GetNode finds a node by ID
func (p *ProcessingPlan) GetNode(id string) *PlanNode {
	for _, node := range p.Nodes {
		if node.ID == id {
			return node
		}
	}
	return nil
}
