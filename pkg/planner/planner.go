// Package planner builds the engine-agnostic composite graph: one input per
// stream, a per-layer chain of stages, and a strictly sequential overlay
// chain ending in the frame overlay.
package planner

import (
	"context"
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// Planner creates processing plans from composite requests
type Planner struct {
	registry *operators.Registry
}

// NewPlanner creates a new planner using the global operator registry
func NewPlanner() *Planner {
	return NewPlannerWithRegistry(operators.GlobalRegistry())
}

// NewPlannerWithRegistry creates a new planner with a custom operator registry
func NewPlannerWithRegistry(registry *operators.Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan builds the composite plan for req. Planning is pure: identical
// requests produce identical plans.
func (p *Planner) Plan(ctx context.Context, req *Request) (*schemas.ProcessingPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Canvas.Width <= 0 || req.Canvas.Height <= 0 {
		return nil, &schemas.GeometryError{
			Field:  "canvas",
			Reason: fmt.Sprintf("size %dx%d must be positive", req.Canvas.Width, req.Canvas.Height),
		}
	}

	graph, inputs, err := NewBuilder().BuildDAG(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build DAG: %w", err)
	}

	if err := p.validateParameters(graph); err != nil {
		return nil, err
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("failed to compute execution order: %w", err)
	}

	return &schemas.ProcessingPlan{
		JobID:          req.JobID,
		Canvas:         req.Canvas,
		Nodes:          graph.Nodes,
		Edges:          graph.Edges,
		ExecutionOrder: order,
		Inputs:         inputs,
		SkippedSlots:   append([]string(nil), req.Skipped...),
	}, nil
}

// validateParameters checks every operation node against its operator
func (p *Planner) validateParameters(graph *Graph) error {
	for _, node := range graph.Nodes {
		if node.Type != schemas.NodeOperation {
			continue
		}

		op, err := p.registry.Get(node.Operator)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		if err := op.ValidateParams(node.Params); err != nil {
			return fmt.Errorf("node %s (%s): %w", node.ID, node.Operator, err)
		}
	}
	return nil
}
