package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

func onePixel(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, c)
	return img
}

func TestApplyFilter(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}

	tests := []struct {
		name   string
		in     color.NRGBA
		filter schemas.ColorFilter
		want   color.NRGBA
	}{
		{"neutral", red, nil, red},
		{"grayscale", red, schemas.ColorFilter{{Kind: schemas.FilterGrayscale, Amount: 1}}, color.NRGBA{R: 54, G: 54, B: 54, A: 255}},
		{"grayscale none", red, schemas.ColorFilter{{Kind: schemas.FilterGrayscale, Amount: 0}}, red},
		{"sepia", color.NRGBA{R: 255, G: 255, B: 255, A: 255}, schemas.ColorFilter{{Kind: schemas.FilterSepia, Amount: 1}}, color.NRGBA{R: 255, G: 255, B: 239, A: 255}},
		{"brightness", color.NRGBA{R: 200, G: 100, B: 50, A: 255}, schemas.ColorFilter{{Kind: schemas.FilterBrightness, Amount: 0.5}}, color.NRGBA{R: 100, G: 50, B: 25, A: 255}},
		{"contrast zero is mid gray", red, schemas.ColorFilter{{Kind: schemas.FilterContrast, Amount: 0}}, color.NRGBA{R: 128, G: 128, B: 128, A: 255}},
		{"saturate zero matches luma", red, schemas.ColorFilter{{Kind: schemas.FilterSaturate, Amount: 0}}, color.NRGBA{R: 54, G: 54, B: 54, A: 255}},
		{"hue rotate zero", color.NRGBA{R: 10, G: 120, B: 230, A: 255}, schemas.ColorFilter{{Kind: schemas.FilterHueRotate, Amount: 0}}, color.NRGBA{R: 10, G: 120, B: 230, A: 255}},
		{"alpha kept", color.NRGBA{R: 255, A: 128}, schemas.ColorFilter{{Kind: schemas.FilterGrayscale, Amount: 1}}, color.NRGBA{R: 54, G: 54, B: 54, A: 128}},
		{"transparent skipped", color.NRGBA{R: 255}, schemas.ColorFilter{{Kind: schemas.FilterBrightness, Amount: 0}}, color.NRGBA{R: 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := onePixel(tt.in)
			require.NoError(t, ApplyFilter(img, tt.filter))
			assert.Equal(t, tt.want, img.NRGBAAt(0, 0))
		})
	}
}

func TestApplyFilter_OrderMatters(t *testing.T) {
	in := color.NRGBA{R: 200, G: 40, B: 40, A: 255}

	a := onePixel(in)
	require.NoError(t, ApplyFilter(a, schemas.ColorFilter{
		{Kind: schemas.FilterBrightness, Amount: 2},
		{Kind: schemas.FilterGrayscale, Amount: 1},
	}))

	b := onePixel(in)
	require.NoError(t, ApplyFilter(b, schemas.ColorFilter{
		{Kind: schemas.FilterGrayscale, Amount: 1},
		{Kind: schemas.FilterBrightness, Amount: 2},
	}))

	// matrix composition is linear, clamping only happens at the end
	assert.Equal(t, a.NRGBAAt(0, 0), b.NRGBAAt(0, 0))
}

func TestApplyFilter_UnknownKind(t *testing.T) {
	err := ApplyFilter(onePixel(color.NRGBA{A: 255}), schemas.ColorFilter{{Kind: "blur", Amount: 3}})
	assert.ErrorContains(t, err, "unknown kind")
}

func TestApplyFilter_Presets(t *testing.T) {
	for _, name := range []string{"grayscale", "sepia", "vintage", "vivid", "noir", "cool"} {
		f, err := schemas.FilterPreset(name)
		require.NoError(t, err)
		assert.NoError(t, ApplyFilter(onePixel(color.NRGBA{R: 90, G: 160, B: 30, A: 255}), f), name)
	}
}
