package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// PadOperator grows a stream to width×height, keeping the content at the
// top-left corner. The planner uses it to bring odd canvases to the even
// sizes yuv420p encoders require.
type PadOperator struct{}

func (o *PadOperator) Name() string {
	return OpPad
}

func (o *PadOperator) Category() operators.Category {
	return operators.CategoryVideo
}

func (o *PadOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpPad,
		Category:    operators.CategoryVideo,
		Description: "Pad to width×height, content anchored at 0,0",
		Parameters: []operators.ParameterDescriptor{
			dimensionParam("width", "Padded width in pixels"),
			dimensionParam("height", "Padded height in pixels"),
			{
				Name:        "color",
				Type:        operators.TypeString,
				Required:    false,
				Default:     "black",
				Description: "Fill color for the added pixels",
			},
		},
		MinInputs:   1,
		MaxInputs:   1,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *PadOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *PadOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
	if err := requireInputs(o, ctx); err != nil {
		return nil, err
	}

	converter := operators.NewTypeConverter()
	width, err := converter.Int(ctx.Params, "width")
	if err != nil {
		return nil, err
	}
	height, err := converter.Int(ctx.Params, "height")
	if err != nil {
		return nil, err
	}
	color := converter.String(ctx.Params, "color", "black")

	return ctx.Fragment(fmt.Sprintf("pad=%d:%d:0:0:color=%s", width, height, color)), nil
}
