package planner

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/geometry"
	"github.com/chicogong/slot-compositor/pkg/operators/builtin"
	"github.com/chicogong/slot-compositor/pkg/resolve"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// Node IDs double as filter labels, so they only use [a-z0-9_]
const (
	baseNodeID   = "base"
	frameNodeID  = "frame"
	outputNodeID = "out"
	evenNodeID   = "even"
)

// SourceSize is the native pixel size of a layer source
type SourceSize struct {
	Width  int
	Height int
}

// Request is everything needed to plan one composite
type Request struct {
	JobID  string
	Canvas schemas.Canvas
	Layers []resolve.Layer

	// Skipped slots are carried into the plan for reporting only
	Skipped []string

	// FrameOverlay is drawn last at (0,0), scaled to the canvas
	FrameOverlay string

	// Video selects companion clips over stills where a layer has one
	Video bool

	// Sizes maps every layer source path to its native size
	Sizes map[string]SourceSize
}

// Builder turns a Request into a composite DAG
type Builder struct {
	graph  *Graph
	inputs []schemas.PlanInput
}

// NewBuilder creates a new plan builder
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildDAG builds the stage graph and the engine input list for req.
//
// Each layer becomes format → scale → crop → [rotate] → overlay, where the
// overlay's first input is the previous overlay (or the base) and its second
// input the layer. The frame overlay, when present, is always the last
// overlay.
func (b *Builder) BuildDAG(req *Request) (*Graph, []schemas.PlanInput, error) {
	b.graph = NewGraph()
	b.inputs = nil

	b.addInput(baseNodeID, schemas.PlanInput{
		Kind:   schemas.InputColor,
		Color:  req.Canvas.Background,
		Width:  req.Canvas.Width,
		Height: req.Canvas.Height,
	})

	canvas := baseNodeID
	for i, layer := range req.Layers {
		top, err := b.addLayer(i+1, layer, req)
		if err != nil {
			return nil, nil, err
		}
		canvas = b.addOverlay(fmt.Sprintf("overlay%d", i+1), canvas, top, layer.Slot.ID, i == 0)
	}

	if req.FrameOverlay != "" {
		frame := b.addFrame(req)
		canvas = b.addOverlay("overlay_frame", canvas, frame, "", len(req.Layers) == 0)
	}

	// yuv420p needs even dimensions; pad rather than scale so slot
	// placement is untouched
	if w, h := evenUp(req.Canvas.Width), evenUp(req.Canvas.Height); w != req.Canvas.Width || h != req.Canvas.Height {
		canvas = b.chain(evenNodeID, canvas, "", stage{builtin.OpPad, map[string]interface{}{"width": w, "height": h}})
	}

	b.graph.AddNode(&schemas.PlanNode{ID: outputNodeID, Type: schemas.NodeOutput})
	b.graph.Connect(canvas, outputNodeID)

	if err := b.graph.DetectCycles(); err != nil {
		return nil, nil, fmt.Errorf("cyclic dependency detected: %w", err)
	}
	if err := b.graph.CheckLinear(); err != nil {
		return nil, nil, err
	}

	return b.graph, b.inputs, nil
}

// placedLayer is the last node of a layer chain and where it goes
type placedLayer struct {
	nodeID string
	x, y   int
}

func (b *Builder) addLayer(n int, layer resolve.Layer, req *Request) (placedLayer, error) {
	source := layer.Source(req.Video)
	size, ok := req.Sizes[source]
	if !ok {
		return placedLayer{}, fmt.Errorf("slot %q: no size known for source %s", layer.Slot.ID, source)
	}

	pt, err := geometry.ComputePixelTransform(layer.Slot.Rect(), size.Width, size.Height)
	if err != nil {
		return placedLayer{}, fmt.Errorf("slot %q: %w", layer.Slot.ID, err)
	}

	kind := schemas.InputImage
	if req.Video && layer.Asset.HasVideo() {
		kind = schemas.InputVideo
	}

	prefix := fmt.Sprintf("layer%d", n)
	b.addInput(prefix, schemas.PlanInput{
		Kind:   kind,
		Source: source,
		SlotID: layer.Slot.ID,
		Width:  size.Width,
		Height: size.Height,
	})

	last := b.chain(prefix, prefix, layer.Slot.ID,
		stage{builtin.OpFormat, map[string]interface{}{"pix_fmt": "rgba"}},
		stage{builtin.OpScale, map[string]interface{}{"width": pt.CoverWidth, "height": pt.CoverHeight}},
		stage{builtin.OpCrop, map[string]interface{}{"width": pt.CropWidth, "height": pt.CropHeight}},
	)
	if pt.Rotated() {
		last = b.chain(prefix, last, layer.Slot.ID, stage{builtin.OpRotate, map[string]interface{}{
			"angle":      pt.Rotation,
			"out_width":  pt.BoundingWidth,
			"out_height": pt.BoundingHeight,
		}})
	}

	return placedLayer{nodeID: last, x: pt.X, y: pt.Y}, nil
}

func (b *Builder) addFrame(req *Request) placedLayer {
	b.addInput(frameNodeID, schemas.PlanInput{
		Kind:   schemas.InputFrame,
		Source: req.FrameOverlay,
	})

	last := b.chain(frameNodeID, frameNodeID, "",
		stage{builtin.OpFormat, map[string]interface{}{"pix_fmt": "rgba"}},
		stage{builtin.OpScale, map[string]interface{}{"width": req.Canvas.Width, "height": req.Canvas.Height}},
	)
	return placedLayer{nodeID: last}
}

type stage struct {
	operator string
	params   map[string]interface{}
}

// chain appends stages after node from, naming each <prefix>_<operator>, and
// returns the last node ID
func (b *Builder) chain(prefix, from, slotID string, stages ...stage) string {
	for _, s := range stages {
		id := prefix + "_" + s.operator
		b.graph.AddNode(&schemas.PlanNode{
			ID:       id,
			Type:     schemas.NodeOperation,
			Operator: s.operator,
			Params:   s.params,
			SlotID:   slotID,
		})
		b.graph.Connect(from, id)
		from = id
	}
	return from
}

// addOverlay draws top over canvas. Only the first overlay onto the base
// may carry shortest.
func (b *Builder) addOverlay(id, canvas string, top placedLayer, slotID string, shortest bool) string {
	params := map[string]interface{}{"x": top.x, "y": top.y}
	if shortest {
		params["shortest"] = true
	}

	b.graph.AddNode(&schemas.PlanNode{
		ID:       id,
		Type:     schemas.NodeOperation,
		Operator: builtin.OpOverlay,
		Params:   params,
		SlotID:   slotID,
	})
	b.graph.Connect(canvas, id)
	b.graph.Connect(top.nodeID, id)
	return id
}

func (b *Builder) addInput(id string, in schemas.PlanInput) {
	in.Index = len(b.inputs)
	in.NodeID = id
	b.inputs = append(b.inputs, in)

	b.graph.AddNode(&schemas.PlanNode{
		ID:         id,
		Type:       schemas.NodeInput,
		InputIndex: in.Index,
		SlotID:     in.SlotID,
	})
}

func evenUp(n int) int {
	return n + n%2
}
