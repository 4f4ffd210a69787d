package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// OverlayOperator draws its second input over its first at (x, y)
type OverlayOperator struct{}

func (o *OverlayOperator) Name() string {
	return OpOverlay
}

func (o *OverlayOperator) Category() operators.Category {
	return operators.CategoryGraphics
}

func (o *OverlayOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpOverlay,
		Category:    operators.CategoryGraphics,
		Description: "Composite a layer onto the accumulated canvas",
		Parameters: []operators.ParameterDescriptor{
			{
				Name:        "x",
				Type:        operators.TypeInt,
				Required:    true,
				Description: "Left edge of the layer, may be negative",
			},
			{
				Name:        "y",
				Type:        operators.TypeInt,
				Required:    true,
				Description: "Top edge of the layer, may be negative",
			},
			{
				Name:        "shortest",
				Type:        operators.TypeBool,
				Default:     false,
				Description: "End the output when the shortest input ends",
			},
		},
		MinInputs:   2,
		MaxInputs:   2,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *OverlayOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *OverlayOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
	if err := requireInputs(o, ctx); err != nil {
		return nil, err
	}

	converter := operators.NewTypeConverter()
	x, err := converter.Int(ctx.Params, "x")
	if err != nil {
		return nil, err
	}
	y, err := converter.Int(ctx.Params, "y")
	if err != nil {
		return nil, err
	}
	shortest, err := converter.Bool(ctx.Params, "shortest")
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf("overlay=%d:%d", x, y)
	if shortest {
		filter += ":shortest=1"
	}
	return ctx.Fragment(filter), nil
}
