package builtin

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/operators"
)

// CropOperator center-crops a stream to width×height
type CropOperator struct{}

func (o *CropOperator) Name() string {
	return OpCrop
}

func (o *CropOperator) Category() operators.Category {
	return operators.CategoryVideo
}

func (o *CropOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpCrop,
		Category:    operators.CategoryVideo,
		Description: "Crop the center width×height region",
		Parameters: []operators.ParameterDescriptor{
			dimensionParam("width", "Output width in pixels"),
			dimensionParam("height", "Output height in pixels"),
		},
		MinInputs:   1,
		MaxInputs:   1,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *CropOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *CropOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
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

	return ctx.Fragment(fmt.Sprintf("crop=%d:%d:(iw-ow)/2:(ih-oh)/2", width, height)), nil
}
