package schemas

import "fmt"

// FilterKind names one color adjustment
type FilterKind string

const (
	FilterGrayscale  FilterKind = "grayscale"  // amount 0..1
	FilterSepia      FilterKind = "sepia"      // amount 0..1
	FilterSaturate   FilterKind = "saturate"   // multiplier, 1 is neutral
	FilterBrightness FilterKind = "brightness" // multiplier, 1 is neutral
	FilterContrast   FilterKind = "contrast"   // multiplier, 1 is neutral
	FilterHueRotate  FilterKind = "hue-rotate" // degrees
)

// FilterOp is a single adjustment
type FilterOp struct {
	Kind   FilterKind `json:"kind" yaml:"kind"`
	Amount float64    `json:"amount" yaml:"amount"`
}

// ColorFilter is an ordered list of adjustments applied to photo layers.
// The frame overlay is never filtered.
type ColorFilter []FilterOp

// presets are the named looks selectable at capture time
var presets = map[string]ColorFilter{
	"none":      nil,
	"grayscale": {{Kind: FilterGrayscale, Amount: 1}},
	"sepia":     {{Kind: FilterSepia, Amount: 1}},
	"vintage": {
		{Kind: FilterSepia, Amount: 0.5},
		{Kind: FilterContrast, Amount: 1.1},
		{Kind: FilterSaturate, Amount: 0.8},
	},
	"vivid": {
		{Kind: FilterSaturate, Amount: 1.5},
		{Kind: FilterContrast, Amount: 1.1},
	},
	"noir": {
		{Kind: FilterGrayscale, Amount: 1},
		{Kind: FilterContrast, Amount: 1.4},
		{Kind: FilterBrightness, Amount: 0.9},
	},
	"cool": {{Kind: FilterHueRotate, Amount: 180}, {Kind: FilterSaturate, Amount: 0.6}},
}

// FilterPreset returns a named filter
func FilterPreset(name string) (ColorFilter, error) {
	f, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown filter preset %q", name)
	}
	return f, nil
}

// IsNeutral reports whether the filter leaves pixels unchanged
func (f ColorFilter) IsNeutral() bool {
	return len(f) == 0
}

// Validate checks each adjustment's kind and range
func (f ColorFilter) Validate() error {
	for i, op := range f {
		switch op.Kind {
		case FilterGrayscale, FilterSepia:
			if op.Amount < 0 || op.Amount > 1 {
				return fmt.Errorf("filter %d (%s): amount %v outside 0..1", i, op.Kind, op.Amount)
			}
		case FilterSaturate, FilterBrightness, FilterContrast:
			if op.Amount < 0 {
				return fmt.Errorf("filter %d (%s): amount %v is negative", i, op.Kind, op.Amount)
			}
		case FilterHueRotate:
		default:
			return fmt.Errorf("filter %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}
