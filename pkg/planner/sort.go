package planner

import (
	"fmt"
	"sort"
)

// TopologicalSort performs a topological sort using Kahn's algorithm and
// returns node IDs in execution order. Among ready nodes the one added to the
// graph first is taken first, so the order depends only on the graph's
// construction and identical graphs sort identically.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	ready := []string{}
	for _, node := range g.Nodes {
		inDegree[node.ID] = len(g.GetIncomingEdges(node.ID))
		if inDegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	result := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		nodeID := ready[0]
		ready = ready[1:]
		result = append(result, nodeID)

		for _, edge := range g.GetOutgoingEdges(nodeID) {
			successor := edge.To
			inDegree[successor]--

			if inDegree[successor] == 0 {
				ready = g.insertByPosition(ready, successor)
			}
		}
	}

	if len(result) != len(g.Nodes) {
		return nil, fmt.Errorf("graph contains cycle (processed %d/%d nodes)", len(result), len(g.Nodes))
	}

	return result, nil
}

// insertByPosition inserts id into ready, keeping it ordered by insertion
// position in the graph
func (g *Graph) insertByPosition(ready []string, id string) []string {
	pos := g.position[id]
	i := sort.Search(len(ready), func(i int) bool {
		return g.position[ready[i]] > pos
	})
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}
