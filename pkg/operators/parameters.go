package operators

import "fmt"

// ParameterDescriptor describes an operator parameter
type ParameterDescriptor struct {
	Name        string
	Type        ParameterType
	Required    bool
	Default     interface{}
	Description string

	// Validation rules
	Validation *ValidationRules
}

// ParameterType represents parameter type
type ParameterType string

const (
	TypeString     ParameterType = "string"
	TypeInt        ParameterType = "int"
	TypeFloat      ParameterType = "float"
	TypeBool       ParameterType = "bool"
	TypeDuration   ParameterType = "duration"   // "1h30m", "00:05:30"
	TypeResolution ParameterType = "resolution" // "1920x1080"
	TypeAngle      ParameterType = "angle"      // degrees, clockwise positive
	TypeEnum       ParameterType = "enum"       // One of predefined values
)

// ValidationRules defines parameter validation rules
type ValidationRules struct {
	// Numeric constraints
	Min *float64
	Max *float64

	// Enum values
	Enum []interface{}

	// Custom validator
	CustomValidator func(interface{}) error
}

// Resolution represents a frame size
type Resolution struct {
	Width  int
	Height int
}

// String formats the resolution as FFmpeg's WxH size syntax
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FloatPtr returns a pointer to f, for ValidationRules bounds
func FloatPtr(f float64) *float64 {
	return &f
}
