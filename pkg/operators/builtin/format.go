package builtin

import (
	"github.com/chicogong/slot-compositor/pkg/operators"
)

// FormatOperator converts a stream's pixel format. Layers are normalized to
// rgba so rotation can fill exposed corners with transparency.
type FormatOperator struct{}

func (o *FormatOperator) Name() string {
	return OpFormat
}

func (o *FormatOperator) Category() operators.Category {
	return operators.CategoryVideo
}

func (o *FormatOperator) Describe() *operators.OperatorDescriptor {
	return &operators.OperatorDescriptor{
		Name:        OpFormat,
		Category:    operators.CategoryVideo,
		Description: "Convert pixel format",
		Parameters: []operators.ParameterDescriptor{
			{
				Name:        "pix_fmt",
				Type:        operators.TypeEnum,
				Default:     "rgba",
				Description: "Target pixel format",
				Validation: &operators.ValidationRules{
					Enum: []interface{}{"rgba", "yuva420p", "yuv420p"},
				},
			},
		},
		MinInputs:   1,
		MaxInputs:   1,
		InputTypes:  []operators.MediaType{operators.MediaTypeVideo, operators.MediaTypeImage},
		OutputTypes: []operators.MediaType{operators.MediaTypeVideo},
	}
}

func (o *FormatOperator) ValidateParams(params map[string]interface{}) error {
	return operators.StandardValidation(o, params)
}

func (o *FormatOperator) Compile(ctx *operators.CompileContext) (*operators.CompileResult, error) {
	if err := requireInputs(o, ctx); err != nil {
		return nil, err
	}

	pixFmt := operators.NewTypeConverter().String(ctx.Params, "pix_fmt", "rgba")
	return ctx.Fragment("format=" + pixFmt), nil
}
