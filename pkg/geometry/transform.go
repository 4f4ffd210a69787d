package geometry

import (
	"fmt"
	"math"
)

// Transform is the derived placement of one source inside one slot. It is
// recomputed for every composite and never persisted.
type Transform struct {
	Cover     Size  `json:"cover"`
	Bounding  Size  `json:"bounding"`
	Placement Point `json:"placement"`
}

// ComputeTransform derives the cover size, rotated bounding box and placement
// for a source of sourceW×sourceH pixels drawn into slot.
func ComputeTransform(slot Rect, sourceW, sourceH float64) (Transform, error) {
	if slot.Width < 0 || slot.Height < 0 {
		return Transform{}, fmt.Errorf("%w: slot size %gx%g is negative", ErrInvalidGeometry, slot.Width, slot.Height)
	}

	cover, err := CoverDimensions(sourceW, sourceH, slot.Width, slot.Height)
	if err != nil {
		return Transform{}, err
	}

	bounding, err := RotatedBoundingBox(slot.Width, slot.Height, slot.Rotation)
	if err != nil {
		return Transform{}, err
	}

	return Transform{
		Cover:     cover,
		Bounding:  bounding,
		Placement: PlacementOffset(slot, bounding.Width, bounding.Height),
	}, nil
}

// PixelTransform is a Transform snapped to whole pixels, as needed by engines
// whose scale, crop, rotate and overlay stages only accept integers.
type PixelTransform struct {
	CoverWidth     int
	CoverHeight    int
	CropWidth      int
	CropHeight     int
	BoundingWidth  int
	BoundingHeight int
	X              int
	Y              int
	Rotation       float64
}

// Rotated reports whether a rotate stage is needed
func (p PixelTransform) Rotated() bool {
	return p.Rotation != 0
}

// ComputePixelTransform snaps ComputeTransform to whole pixels. Cover and
// bounding sizes round up so content is never clipped; the crop is the slot
// size rounded to the nearest pixel; the placement is recomputed from the
// rounded bounding box so the slot center stays fixed to within half a pixel.
func ComputePixelTransform(slot Rect, sourceW, sourceH int) (PixelTransform, error) {
	t, err := ComputeTransform(slot, float64(sourceW), float64(sourceH))
	if err != nil {
		return PixelTransform{}, err
	}

	coverW, coverH := t.Cover.Pixels()
	cropW := int(math.Round(slot.Width))
	cropH := int(math.Round(slot.Height))
	if cropW < 1 || cropH < 1 {
		return PixelTransform{}, fmt.Errorf("%w: slot size %gx%g rounds below one pixel", ErrInvalidGeometry, slot.Width, slot.Height)
	}

	boundW, boundH := cropW, cropH
	if slot.Rotation != 0 {
		bounding, err := RotatedBoundingBox(float64(cropW), float64(cropH), slot.Rotation)
		if err != nil {
			return PixelTransform{}, err
		}
		boundW, boundH = bounding.Pixels()
	}

	center := slot.Center()
	return PixelTransform{
		CoverWidth:     coverW,
		CoverHeight:    coverH,
		CropWidth:      cropW,
		CropHeight:     cropH,
		BoundingWidth:  boundW,
		BoundingHeight: boundH,
		X:              int(math.Round(center.X - float64(boundW)/2)),
		Y:              int(math.Round(center.Y - float64(boundH)/2)),
		Rotation:       slot.Rotation,
	}, nil
}
