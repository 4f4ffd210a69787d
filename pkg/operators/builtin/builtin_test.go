package builtin

import (
	"testing"

	"github.com/chicogong/slot-compositor/pkg/operators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(label string) operators.StreamRef {
	return operators.StreamRef{Label: label, StreamType: "video"}
}

func TestBuiltin_Registered(t *testing.T) {
	for _, name := range []string{OpFormat, OpScale, OpCrop, OpRotate, OpOverlay, OpPad} {
		op, err := operators.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, op.Describe().Name)
	}
}

func TestBuiltin_Compile(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		inputs []operators.StreamRef
		params map[string]interface{}
		out    string
		want   string
	}{
		{
			name:   "format defaults to rgba",
			op:     OpFormat,
			inputs: []operators.StreamRef{stream("[1:v]")},
			params: map[string]interface{}{},
			out:    "[l1f]",
			want:   "[1:v]format=rgba[l1f]",
		},
		{
			name:   "scale to cover",
			op:     OpScale,
			inputs: []operators.StreamRef{stream("[l1f]")},
			params: map[string]interface{}{"width": 534, "height": 300},
			out:    "[l1s]",
			want:   "[l1f]scale=534:300:flags=bicubic[l1s]",
		},
		{
			name:   "center crop",
			op:     OpCrop,
			inputs: []operators.StreamRef{stream("[l1s]")},
			params: map[string]interface{}{"width": 400, "height": 300},
			out:    "[l1c]",
			want:   "[l1s]crop=400:300:(iw-ow)/2:(ih-oh)/2[l1c]",
		},
		{
			name:   "rotate quarter turn",
			op:     OpRotate,
			inputs: []operators.StreamRef{stream("[l1c]")},
			params: map[string]interface{}{"angle": 90.0, "out_width": 300, "out_height": 400},
			out:    "[l1r]",
			want:   "[l1c]rotate=90*PI/180:ow=300:oh=400:c=none[l1r]",
		},
		{
			name:   "rotate negative fractional",
			op:     OpRotate,
			inputs: []operators.StreamRef{stream("[l2c]")},
			params: map[string]interface{}{"angle": -12.5, "out_width": 10, "out_height": 10},
			out:    "[l2r]",
			want:   "[l2c]rotate=-12.5*PI/180:ow=10:oh=10:c=none[l2r]",
		},
		{
			name:   "first overlay is shortest",
			op:     OpOverlay,
			inputs: []operators.StreamRef{stream("[0:v]"), stream("[l1r]")},
			params: map[string]interface{}{"x": 250, "y": 150, "shortest": true},
			out:    "[o1]",
			want:   "[0:v][l1r]overlay=250:150:shortest=1[o1]",
		},
		{
			name:   "later overlay with negative offset",
			op:     OpOverlay,
			inputs: []operators.StreamRef{stream("[o1]"), stream("[l2r]")},
			params: map[string]interface{}{"x": -4, "y": 7},
			out:    "[o2]",
			want:   "[o1][l2r]overlay=-4:7[o2]",
		},
		{
			name:   "pad to even size",
			op:     OpPad,
			inputs: []operators.StreamRef{stream("[o2]")},
			params: map[string]interface{}{"width": 802, "height": 1202},
			out:    "[out]",
			want:   "[o2]pad=802:1202:0:0:color=black[out]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := operators.GlobalRegistry().Compile(tt.op, &operators.CompileContext{
				InputStreams: tt.inputs,
				Params:       tt.params,
				OutputLabel:  tt.out,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.FilterExpression)
			assert.Equal(t, []string{tt.out}, res.OutputLabels)
		})
	}
}

func TestBuiltin_ValidateParams(t *testing.T) {
	tests := []struct {
		name   string
		op     operators.Operator
		params map[string]interface{}
	}{
		{"scale missing height", &ScaleOperator{}, map[string]interface{}{"width": 10}},
		{"scale zero width", &ScaleOperator{}, map[string]interface{}{"width": 0, "height": 10}},
		{"scale bad algorithm", &ScaleOperator{}, map[string]interface{}{"width": 1, "height": 1, "algorithm": "magic"}},
		{"crop oversize", &CropOperator{}, map[string]interface{}{"width": maxDimension + 1, "height": 1}},
		{"rotate missing angle", &RotateOperator{}, map[string]interface{}{"out_width": 1, "out_height": 1}},
		{"format unknown", &FormatOperator{}, map[string]interface{}{"pix_fmt": "bgr24"}},
		{"overlay missing y", &OverlayOperator{}, map[string]interface{}{"x": 0}},
		{"pad zero height", &PadOperator{}, map[string]interface{}{"width": 2, "height": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.op.ValidateParams(tt.params))
		})
	}
}

func TestBuiltin_CompileRejectsWrongInputs(t *testing.T) {
	_, err := (&OverlayOperator{}).Compile(&operators.CompileContext{
		InputStreams: []operators.StreamRef{stream("[0:v]")},
		Params:       map[string]interface{}{"x": 0, "y": 0},
		OutputLabel:  "[o1]",
	})
	assert.ErrorContains(t, err, "input streams")

	_, err = (&CropOperator{}).Compile(&operators.CompileContext{
		InputStreams: []operators.StreamRef{stream("[0:v]")},
		Params:       map[string]interface{}{"width": 1, "height": 1},
	})
	assert.ErrorContains(t, err, "no output label")
}
