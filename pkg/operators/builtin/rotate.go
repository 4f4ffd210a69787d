package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// RotateOperator rotates a stream about its center onto a larger output so
// no content is clipped. Exposed corners are left transparent.
type RotateOperator struct{}

func (o *RotateOperator) Name() string {
	return OpRotate
}

func (o *RotateOperator) Category() operators.Category {
	return operators.CategoryVideo
}

func (o *RotateOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpRotate,
		Category:    operators.CategoryVideo,
		Description: "Rotate about the center, clockwise positive",
		Parameters: []operators.ParameterDescriptor{
			{
				Name:        "angle",
				Type:        operators.TypeAngle,
				Required:    true,
				Description: "Rotation in degrees, clockwise positive",
			},
			dimensionParam("out_width", "Width of the rotated bounding box"),
			dimensionParam("out_height", "Height of the rotated bounding box"),
		},
		MinInputs:   1,
		MaxInputs:   1,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *RotateOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *RotateOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
	if err := requireInputs(o, ctx); err != nil {
		return nil, err
	}

	converter := operators.NewTypeConverter()
	angle, err := converter.Float(ctx.Params, "angle")
	if err != nil {
		return nil, err
	}
	outW, err := converter.Int(ctx.Params, "out_width")
	if err != nil {
		return nil, err
	}
	outH, err := converter.Int(ctx.Params, "out_height")
	if err != nil {
		return nil, err
	}

	// ffmpeg's rotate takes radians and turns clockwise for positive values
	filter := fmt.Sprintf("rotate=%s*PI/180:ow=%d:oh=%d:c=none",
		operators.FormatNumber(angle), outW, outH)
	return ctx.Fragment(filter), nil
}
