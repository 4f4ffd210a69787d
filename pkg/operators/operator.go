// Package operators translates abstract composite stages into FFmpeg
// filter_complex fragments. Stage kinds live in the builtin subpackage and
// register themselves with the global registry.
package operators

// Operator is the interface all operators must implement
type Operator interface {
	// Name returns the unique operator identifier
	Name() string

	// Category returns the operator category
	Category() Category

	// Describe returns operator description and parameter schema
	Describe() *OperatorDescriptor

	// ValidateParams validates operation parameters
	ValidateParams(params map[string]interface{}) error

	// Compile renders the operator as a filter_complex fragment
	Compile(ctx *CompileContext) (*CompileResult, error)
}

// Category represents operator category
type Category string

const (
	CategoryVideo    Category = "video"    // format, scale, crop, rotate
	CategoryGraphics Category = "graphics" // overlay
)

// OperatorDescriptor describes an operator
type OperatorDescriptor struct {
	Name        string
	Category    Category
	Description string

	// Parameter schema
	Parameters []ParameterDescriptor

	// Input requirements
	MinInputs  int
	MaxInputs  int
	InputTypes []MediaType

	// Output types
	OutputTypes []MediaType
}

// MediaType represents media type
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
	MediaTypeAny   MediaType = "any"
)

// CompileContext contains context for compilation
type CompileContext struct {
	// InputStreams are ordered: for two-input operators the first stream is
	// the one drawn underneath
	InputStreams []StreamRef
	Params       map[string]interface{}

	// OutputLabel is the label the fragment must produce, e.g. "[l1c]"
	OutputLabel string
}

// StreamRef references an input stream
type StreamRef struct {
	SourceID    string
	StreamIndex int
	StreamType  string // "video"
	Label       string // FFmpeg label (e.g., "[1:v]")
}

// CompileResult contains compilation result
type CompileResult struct {
	// Filtergraph fragment
	FilterExpression string

	// Output stream labels
	OutputLabels []string
}

// InputLabels concatenates the labels of the context's input streams
func (ctx *CompileContext) InputLabels() string {
	labels := ""
	for _, s := range ctx.InputStreams {
		labels += s.Label
	}
	return labels
}

// Fragment builds a CompileResult for a single-output filter
func (ctx *CompileContext) Fragment(filter string) *CompileResult {
	return &CompileResult{
		FilterExpression: ctx.InputLabels() + filter + ctx.OutputLabel,
		OutputLabels:     []string{ctx.OutputLabel},
	}
}
