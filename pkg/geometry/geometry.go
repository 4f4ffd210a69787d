// Package geometry computes the cover, rotation and placement math shared by
// the filter-graph builder and the raster compositor.
//
// Every function is pure: the same inputs always produce the same outputs and
// nothing here touches I/O or shared state.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned for negative or otherwise unusable dimensions
var ErrInvalidGeometry = errors.New("invalid geometry")

// pixelEpsilon absorbs floating point noise before rounding up to whole pixels
const pixelEpsilon = 1e-6

// Size is a width/height pair in canvas pixels
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pixels rounds both dimensions up to whole pixels
func (s Size) Pixels() (int, int) {
	return ceilPixels(s.Width), ceilPixels(s.Height)
}

// Point is a coordinate in canvas pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an unrotated rectangle with a rotation about its own center.
// X and Y are the top-left corner; Rotation is in degrees, clockwise positive.
type Rect struct {
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Rotation float64
}

// Center returns the rectangle's centroid
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// CoverDimensions scales a sourceW×sourceH medium so it fully covers a
// targetW×targetH rectangle with minimum excess. A relatively wider source
// matches the target height and overflows horizontally; otherwise the width is
// matched and the height overflows. The result is never smaller than the
// target on either axis.
func CoverDimensions(sourceW, sourceH, targetW, targetH float64) (Size, error) {
	if sourceW <= 0 || sourceH <= 0 {
		return Size{}, fmt.Errorf("%w: source size %gx%g must be positive", ErrInvalidGeometry, sourceW, sourceH)
	}
	if targetW < 0 || targetH < 0 {
		return Size{}, fmt.Errorf("%w: target size %gx%g is negative", ErrInvalidGeometry, targetW, targetH)
	}
	if targetW == 0 || targetH == 0 {
		return Size{}, nil
	}

	sourceAspect := sourceW / sourceH
	targetAspect := targetW / targetH

	var draw Size
	if sourceAspect > targetAspect {
		draw = Size{Width: targetH * sourceW / sourceH, Height: targetH}
	} else {
		draw = Size{Width: targetW, Height: targetW * sourceH / sourceW}
	}

	draw.Width = math.Max(draw.Width, targetW)
	draw.Height = math.Max(draw.Height, targetH)
	return draw, nil
}

// RotatedBoundingBox returns the axis-aligned bounding box of a width×height
// rectangle rotated by angleDegrees about its center:
//
//	boundingWidth  = width*|cos| + height*|sin|
//	boundingHeight = width*|sin| + height*|cos|
//
// Quarter turns are resolved exactly so 90° and 270° swap the dimensions.
func RotatedBoundingBox(width, height, angleDegrees float64) (Size, error) {
	if width < 0 || height < 0 {
		return Size{}, fmt.Errorf("%w: size %gx%g is negative", ErrInvalidGeometry, width, height)
	}
	if math.IsNaN(angleDegrees) || math.IsInf(angleDegrees, 0) {
		return Size{}, fmt.Errorf("%w: rotation %g is not finite", ErrInvalidGeometry, angleDegrees)
	}

	c, s := absTrig(angleDegrees)
	return Size{
		Width:  width*c + height*s,
		Height: width*s + height*c,
	}, nil
}

// absTrig returns |cos| and |sin| of an angle in degrees
func absTrig(angleDegrees float64) (float64, float64) {
	angleDegrees = math.Mod(angleDegrees, 360)
	if math.Mod(angleDegrees, 90) == 0 {
		if int(math.Abs(angleDegrees)/90)%2 == 0 {
			return 1, 0
		}
		return 0, 1
	}

	rad := angleDegrees * math.Pi / 180
	return math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
}

// PlacementOffset returns the top-left coordinate at which a rotated
// bounding box must be placed so its centroid coincides with the slot's
// unrotated centroid.
func PlacementOffset(slot Rect, boundingWidth, boundingHeight float64) Point {
	offsetX := (boundingWidth - slot.Width) / 2
	offsetY := (boundingHeight - slot.Height) / 2
	return Point{
		X: slot.X - offsetX,
		Y: slot.Y - offsetY,
	}
}

func ceilPixels(v float64) int {
	return int(math.Ceil(v - pixelEpsilon))
}
