package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// ScaleOperator resizes a stream to an exact size. The planner feeds it the
// cover dimensions of a slot, or the canvas size for the frame overlay.
type ScaleOperator struct{}

func (o *ScaleOperator) Name() string {
	return OpScale
}

func (o *ScaleOperator) Category() operators.Category {
	return operators.CategoryVideo
}

func (o *ScaleOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpScale,
		Category:    operators.CategoryVideo,
		Description: "Scale to an exact resolution",
		Parameters: []operators.ParameterDescriptor{
			dimensionParam("width", "Target width in pixels"),
			dimensionParam("height", "Target height in pixels"),
			{
				Name:        "algorithm",
				Type:        operators.TypeEnum,
				Required:    false,
				Default:     "bicubic",
				Description: "Scaling algorithm",
				Validation: &operators.ValidationRules{
					Enum: []interface{}{"bilinear", "bicubic", "lanczos", "neighbor"},
				},
			},
		},
		MinInputs:   1,
		MaxInputs:   1,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo, operators.MediaTypeImage},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *ScaleOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *ScaleOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
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
	algorithm := converter.String(ctx.Params, "algorithm", "bicubic")

	return ctx.Fragment(fmt.Sprintf("scale=%d:%d:flags=%s", width, height, algorithm)), nil
}
