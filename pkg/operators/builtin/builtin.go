// Package builtin registers the composite stage operators: format, scale,
// crop, rotate, overlay and pad.
package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// Operator names as referenced by plan nodes
const (
	OpFormat  = "format"
	OpScale   = "scale"
	OpCrop    = "crop"
	OpRotate  = "rotate"
	OpOverlay = "overlay"
	OpPad     = "pad"
)

// maxDimension bounds every pixel size parameter
const maxDimension = 16384

func init() {
	operators.Register(&FormatOperator{})
	operators.Register(&ScaleOperator{})
	operators.Register(&CropOperator{})
	operators.Register(&RotateOperator{})
	operators.Register(&OverlayOperator{})
	operators.Register(&PadOperator{})
}

func dimensionParam(name, description string) operators.ParameterDescriptor {
	return operators.ParameterDescriptor{
		Name:        name,
		Type:        operators.TypeInt,
		Required:    true,
		Description: description,
		Validation: &operators.ValidationRules{
			Min: operators.FloatPtr(1),
			Max: operators.FloatPtr(maxDimension),
		},
	}
}

// requireInputs checks the stream count against the descriptor
func requireInputs(op operators.Operator, ctx *operators.CompileContext) error {
	d := op.Describe()
	n := len(ctx.InputStreams)
	if n < d.MinInputs || n > d.MaxInputs {
		return fmt.Errorf("%s takes %d..%d input streams, got %d", d.Name, d.MinInputs, d.MaxInputs, n)
	}
	for _, s := range ctx.InputStreams {
		if s.Label == "" {
			return fmt.Errorf("%s: input stream %q has no label", d.Name, s.SourceID)
		}
	}
	if ctx.OutputLabel == "" {
		return fmt.Errorf("%s: no output label", d.Name)
	}
	return nil
}
