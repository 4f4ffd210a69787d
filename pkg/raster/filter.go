package raster

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// identity is the neutral 4×4 color matrix, row-major over (r, g, b, 1)
var identity = f64.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// filterMatrix folds a ColorFilter into one color matrix. Coefficients
// follow the CSS filter-effects definitions so previews match the booth.
func filterMatrix(filter schemas.ColorFilter) (f64.Mat4, error) {
	m := identity
	for i, op := range filter {
		step, err := opMatrix(op)
		if err != nil {
			return identity, fmt.Errorf("filter %d: %w", i, err)
		}
		m = mul(step, m)
	}
	return m, nil
}

func opMatrix(op schemas.FilterOp) (f64.Mat4, error) {
	a := op.Amount
	switch op.Kind {
	case schemas.FilterGrayscale:
		inv := 1 - clamp01(a)
		return rgb(
			0.2126+0.7874*inv, 0.7152-0.7152*inv, 0.0722-0.0722*inv,
			0.2126-0.2126*inv, 0.7152+0.2848*inv, 0.0722-0.0722*inv,
			0.2126-0.2126*inv, 0.7152-0.7152*inv, 0.0722+0.9278*inv,
		), nil
	case schemas.FilterSepia:
		inv := 1 - clamp01(a)
		return rgb(
			0.393+0.607*inv, 0.769-0.769*inv, 0.189-0.189*inv,
			0.349-0.349*inv, 0.686+0.314*inv, 0.168-0.168*inv,
			0.272-0.272*inv, 0.534-0.534*inv, 0.131+0.869*inv,
		), nil
	case schemas.FilterSaturate:
		return rgb(
			0.213+0.787*a, 0.715-0.715*a, 0.072-0.072*a,
			0.213-0.213*a, 0.715+0.285*a, 0.072-0.072*a,
			0.213-0.213*a, 0.715-0.715*a, 0.072+0.928*a,
		), nil
	case schemas.FilterHueRotate:
		rad := a * math.Pi / 180
		c, s := math.Cos(rad), math.Sin(rad)
		return rgb(
			0.213+c*0.787-s*0.213, 0.715-c*0.715-s*0.715, 0.072-c*0.072+s*0.928,
			0.213-c*0.213+s*0.143, 0.715+c*0.285+s*0.140, 0.072-c*0.072-s*0.283,
			0.213-c*0.213-s*0.787, 0.715-c*0.715+s*0.715, 0.072+c*0.928+s*0.072,
		), nil
	case schemas.FilterBrightness:
		return rgb(a, 0, 0, 0, a, 0, 0, 0, a), nil
	case schemas.FilterContrast:
		// offset is in 0..1 channel units
		off := 0.5 - 0.5*a
		return f64.Mat4{
			a, 0, 0, off,
			0, a, 0, off,
			0, 0, a, off,
			0, 0, 0, 1,
		}, nil
	default:
		return identity, fmt.Errorf("unknown kind %q", op.Kind)
	}
}

func rgb(m00, m01, m02, m10, m11, m12, m20, m21, m22 float64) f64.Mat4 {
	return f64.Mat4{
		m00, m01, m02, 0,
		m10, m11, m12, 0,
		m20, m21, m22, 0,
		0, 0, 0, 1,
	}
}

// mul returns a·b
func mul(a, b f64.Mat4) f64.Mat4 {
	var out f64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[r*4+k] * b[k*4+c]
			}
			out[r*4+c] = sum
		}
	}
	return out
}

// ApplyFilter rewrites img's color channels in place. Alpha is untouched.
func ApplyFilter(img *image.NRGBA, filter schemas.ColorFilter) error {
	if filter.IsNeutral() {
		return nil
	}

	m, err := filterMatrix(filter)
	if err != nil {
		return err
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			if row[i+3] == 0 {
				continue
			}
			r := float64(row[i]) / 255
			g := float64(row[i+1]) / 255
			bl := float64(row[i+2]) / 255

			row[i] = channel(m[0]*r + m[1]*g + m[2]*bl + m[3])
			row[i+1] = channel(m[4]*r + m[5]*g + m[6]*bl + m[7])
			row[i+2] = channel(m[8]*r + m[9]*g + m[10]*bl + m[11])
		}
	}
	return nil
}

func channel(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
