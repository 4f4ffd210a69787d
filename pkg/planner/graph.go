package planner

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators/builtin"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// Graph represents a directed acyclic graph (DAG) of composite stages
type Graph struct {
	Nodes []*schemas.PlanNode
	Edges []*schemas.PlanEdge

	// Internal indexes for fast lookup
	nodeIndex map[string]*schemas.PlanNode
	position  map[string]int
	outgoing  map[string][]*schemas.PlanEdge
	incoming  map[string][]*schemas.PlanEdge
}

// NewGraph creates a new empty graph
func NewGraph() *Graph {
	return &Graph{
		Nodes:     []*schemas.PlanNode{},
		Edges:     []*schemas.PlanEdge{},
		nodeIndex: make(map[string]*schemas.PlanNode),
		position:  make(map[string]int),
		outgoing:  make(map[string][]*schemas.PlanEdge),
		incoming:  make(map[string][]*schemas.PlanEdge),
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *schemas.PlanNode) {
	g.position[node.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, node)
	g.nodeIndex[node.ID] = node
}

// AddEdge adds an edge to the graph. Edge order into a node is significant.
func (g *Graph) AddEdge(edge *schemas.PlanEdge) {
	g.Edges = append(g.Edges, edge)
	g.outgoing[edge.From] = append(g.outgoing[edge.From], edge)
	g.incoming[edge.To] = append(g.incoming[edge.To], edge)
}

// Connect adds an edge between two node IDs
func (g *Graph) Connect(from, to string) {
	g.AddEdge(&schemas.PlanEdge{From: from, To: to})
}

// GetNode retrieves a node by ID
func (g *Graph) GetNode(id string) *schemas.PlanNode {
	return g.nodeIndex[id]
}

// GetOutgoingEdges returns all edges from a node
func (g *Graph) GetOutgoingEdges(nodeID string) []*schemas.PlanEdge {
	return g.outgoing[nodeID]
}

// GetIncomingEdges returns all edges to a node, in insertion order
func (g *Graph) GetIncomingEdges(nodeID string) []*schemas.PlanEdge {
	return g.incoming[nodeID]
}

// GetPredecessors returns all predecessor nodes
func (g *Graph) GetPredecessors(nodeID string) []*schemas.PlanNode {
	incoming := g.GetIncomingEdges(nodeID)
	predecessors := make([]*schemas.PlanNode, 0, len(incoming))

	for _, edge := range incoming {
		if node := g.GetNode(edge.From); node != nil {
			predecessors = append(predecessors, node)
		}
	}

	return predecessors
}

// GetSuccessors returns all successor nodes
func (g *Graph) GetSuccessors(nodeID string) []*schemas.PlanNode {
	outgoing := g.GetOutgoingEdges(nodeID)
	successors := make([]*schemas.PlanNode, 0, len(outgoing))

	for _, edge := range outgoing {
		if node := g.GetNode(edge.To); node != nil {
			successors = append(successors, node)
		}
	}

	return successors
}

// DetectCycles checks if the graph contains any cycles using DFS
func (g *Graph) DetectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, node := range g.Nodes {
		if !visited[node.ID] {
			if err := g.dfsCheckCycle(node.ID, visited, recStack); err != nil {
				return err
			}
		}
	}

	return nil
}

// dfsCheckCycle performs DFS to detect cycles
func (g *Graph) dfsCheckCycle(nodeID string, visited, recStack map[string]bool) error {
	visited[nodeID] = true
	recStack[nodeID] = true

	for _, edge := range g.GetOutgoingEdges(nodeID) {
		successor := edge.To

		if !visited[successor] {
			if err := g.dfsCheckCycle(successor, visited, recStack); err != nil {
				return err
			}
		} else if recStack[successor] {
			return fmt.Errorf("cycle detected: %s -> %s", nodeID, successor)
		}
	}

	recStack[nodeID] = false
	return nil
}

// CheckLinear verifies the composite graph is a single chain of streams:
// every edge joins known nodes, every stream except the final one is consumed
// exactly once, overlays take exactly two inputs and other operations one,
// and there is exactly one output node fed by one stream.
func (g *Graph) CheckLinear() error {
	for _, edge := range g.Edges {
		if g.GetNode(edge.From) == nil || g.GetNode(edge.To) == nil {
			return fmt.Errorf("edge %s -> %s references an unknown node", edge.From, edge.To)
		}
	}

	outputs := 0
	for _, node := range g.Nodes {
		in := len(g.GetIncomingEdges(node.ID))
		out := len(g.GetOutgoingEdges(node.ID))

		switch node.Type {
		case schemas.NodeInput:
			if in != 0 {
				return fmt.Errorf("input %s has %d incoming streams", node.ID, in)
			}
		case schemas.NodeOperation:
			want := 1
			if node.Operator == builtin.OpOverlay {
				want = 2
			}
			if in != want {
				return fmt.Errorf("operation %s (%s) has %d inputs, want %d", node.ID, node.Operator, in, want)
			}
		case schemas.NodeOutput:
			outputs++
			if in != 1 {
				return fmt.Errorf("output %s has %d inputs, want 1", node.ID, in)
			}
			continue
		default:
			return fmt.Errorf("node %s has unknown type %q", node.ID, node.Type)
		}

		if out != 1 {
			return fmt.Errorf("stream of %s is consumed %d times, want exactly once", node.ID, out)
		}
	}

	if outputs != 1 {
		return fmt.Errorf("graph has %d output nodes, want 1", outputs)
	}
	return nil
}

// GetInputNodes returns all input nodes in insertion order
func (g *Graph) GetInputNodes() []*schemas.PlanNode {
	return g.nodesOfType(schemas.NodeInput)
}

// GetOutputNodes returns all output nodes
func (g *Graph) GetOutputNodes() []*schemas.PlanNode {
	return g.nodesOfType(schemas.NodeOutput)
}

func (g *Graph) nodesOfType(nodeType string) []*schemas.PlanNode {
	nodes := []*schemas.PlanNode{}
	for _, node := range g.Nodes {
		if node.Type == nodeType {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
