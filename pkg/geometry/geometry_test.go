package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-6

var testAngles = []float64{0, 15, -15, 30, 45, 90, -90, 135, 180, 270, 333.3}

func TestCoverDimensions(t *testing.T) {
	tests := []struct {
		name       string
		sourceW    float64
		sourceH    float64
		targetW    float64
		targetH    float64
		wantWidth  float64
		wantHeight float64
	}{
		{
			name:    "wider source matches height",
			sourceW: 1920, sourceH: 1080,
			targetW: 400, targetH: 300,
			wantWidth: 300 * 1920.0 / 1080.0, wantHeight: 300,
		},
		{
			name:    "taller source matches width",
			sourceW: 1080, sourceH: 1920,
			targetW: 400, targetH: 300,
			wantWidth: 400, wantHeight: 400 * 1920.0 / 1080.0,
		},
		{
			name:    "equal aspect is exact",
			sourceW: 800, sourceH: 600,
			targetW: 400, targetH: 300,
			wantWidth: 400, wantHeight: 300,
		},
		{
			name:    "upscale small source",
			sourceW: 40, sourceH: 10,
			targetW: 100, targetH: 100,
			wantWidth: 400, wantHeight: 100,
		},
		{
			name:    "degenerate target",
			sourceW: 640, sourceH: 480,
			targetW: 0, targetH: 300,
			wantWidth: 0, wantHeight: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoverDimensions(tt.sourceW, tt.sourceH, tt.targetW, tt.targetH)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantWidth, got.Width, tolerance)
			assert.InDelta(t, tt.wantHeight, got.Height, tolerance)
		})
	}
}

func TestCoverDimensions_NeverSmallerThanTarget(t *testing.T) {
	sources := [][2]float64{{1920, 1080}, {1080, 1920}, {1, 1}, {3, 7}, {4000, 3}, {1001, 1000}, {999, 1000}}
	targets := [][2]float64{{400, 300}, {300, 400}, {1, 1}, {1234.5, 77.25}, {33, 33}, {1000, 999}}

	for _, src := range sources {
		for _, dst := range targets {
			got, err := CoverDimensions(src[0], src[1], dst[0], dst[1])
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Width, dst[0], "source %v target %v", src, dst)
			assert.GreaterOrEqual(t, got.Height, dst[1], "source %v target %v", src, dst)

			// one axis always matches exactly
			matched := got.Width == dst[0] || got.Height == dst[1]
			assert.True(t, matched, "source %v target %v: %+v", src, dst, got)
		}
	}
}

func TestCoverDimensions_InvalidInput(t *testing.T) {
	_, err := CoverDimensions(0, 1080, 400, 300)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = CoverDimensions(1920, -1, 400, 300)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = CoverDimensions(1920, 1080, -400, 300)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestRotatedBoundingBox_Identity(t *testing.T) {
	got, err := RotatedBoundingBox(400, 300, 0)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 400, Height: 300}, got)
}

func TestRotatedBoundingBox_QuarterTurns(t *testing.T) {
	for _, angle := range []float64{90, 270, -90, -270, 450} {
		got, err := RotatedBoundingBox(400, 300, angle)
		require.NoError(t, err)
		assert.InDelta(t, 300, got.Width, tolerance, "angle %v", angle)
		assert.InDelta(t, 400, got.Height, tolerance, "angle %v", angle)
	}

	got, err := RotatedBoundingBox(400, 300, 180)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 400, Height: 300}, got)
}

func TestRotatedBoundingBox_HugeAngles(t *testing.T) {
	for _, angle := range []float64{9e20, -9e20, 90 * (1 << 62)} {
		got, err := RotatedBoundingBox(400, 300, angle)
		require.NoError(t, err)
		assert.Equal(t, Size{Width: 400, Height: 300}, got, "angle %v", angle)
	}

	// reduced modulo a full turn before the quarter-turn shortcut
	got, err := RotatedBoundingBox(400, 300, 360*1e6+90)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 300, Height: 400}, got)
}

func TestRotatedBoundingBox_General(t *testing.T) {
	got, err := RotatedBoundingBox(400, 300, 45)
	require.NoError(t, err)

	want := 700 * math.Sqrt2 / 2
	assert.InDelta(t, want, got.Width, tolerance)
	assert.InDelta(t, want, got.Height, tolerance)

	// symmetric in the sign of the angle
	neg, err := RotatedBoundingBox(400, 300, -15)
	require.NoError(t, err)
	pos, err := RotatedBoundingBox(400, 300, 15)
	require.NoError(t, err)
	assert.InDelta(t, pos.Width, neg.Width, tolerance)
	assert.InDelta(t, pos.Height, neg.Height, tolerance)
}

func TestRotatedBoundingBox_DiffersFromHypot(t *testing.T) {
	w, h := 400.0, 300.0
	for _, angle := range []float64{15, -15, 30, 45, 60, 135, 200, 333.3} {
		got, err := RotatedBoundingBox(w, h, angle)
		require.NoError(t, err)

		rad := angle * math.Pi / 180
		hypotW := math.Hypot(w*math.Cos(rad), h*math.Sin(rad))
		hypotH := math.Hypot(w*math.Sin(rad), h*math.Cos(rad))

		assert.Greater(t, math.Abs(got.Width-hypotW), tolerance, "angle %v", angle)
		assert.Greater(t, got.Width, hypotW, "angle %v: hypot box must be undersized", angle)
		assert.Greater(t, got.Height, hypotH, "angle %v: hypot box must be undersized", angle)
	}
}

func TestRotatedBoundingBox_ContainsCorners(t *testing.T) {
	w, h := 400.0, 300.0
	for _, angle := range testAngles {
		box, err := RotatedBoundingBox(w, h, angle)
		require.NoError(t, err)

		rad := angle * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)
		for _, corner := range [][2]float64{{-w / 2, -h / 2}, {w / 2, -h / 2}, {w / 2, h / 2}, {-w / 2, h / 2}} {
			x := corner[0]*cos - corner[1]*sin
			y := corner[0]*sin + corner[1]*cos
			assert.LessOrEqual(t, math.Abs(x), box.Width/2+tolerance, "angle %v", angle)
			assert.LessOrEqual(t, math.Abs(y), box.Height/2+tolerance, "angle %v", angle)
		}
	}
}

func TestRotatedBoundingBox_InvalidInput(t *testing.T) {
	_, err := RotatedBoundingBox(-1, 300, 10)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = RotatedBoundingBox(400, 300, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestPlacementOffset_KeepsCentroid(t *testing.T) {
	sizes := [][2]float64{{400, 300}, {300, 400}, {1, 1}, {123.5, 987.25}, {50, 50}}

	for _, size := range sizes {
		for _, angle := range testAngles {
			slot := Rect{X: 200, Y: 120, Width: size[0], Height: size[1], Rotation: angle}

			box, err := RotatedBoundingBox(slot.Width, slot.Height, angle)
			require.NoError(t, err)
			p := PlacementOffset(slot, box.Width, box.Height)

			center := slot.Center()
			assert.InDelta(t, center.X, p.X+box.Width/2, tolerance, "size %v angle %v", size, angle)
			assert.InDelta(t, center.Y, p.Y+box.Height/2, tolerance, "size %v angle %v", size, angle)
		}
	}
}

func TestPlacementOffset_Unrotated(t *testing.T) {
	slot := Rect{X: 200, Y: 200, Width: 400, Height: 300}
	assert.Equal(t, Point{X: 200, Y: 200}, PlacementOffset(slot, 400, 300))
}

func TestSize_Pixels(t *testing.T) {
	w, h := Size{Width: 533.3333, Height: 300.0000000001}.Pixels()
	assert.Equal(t, 534, w)
	assert.Equal(t, 300, h)
}
