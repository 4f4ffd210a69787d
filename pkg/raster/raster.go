// Package raster draws a layout straight into a pixel buffer. It applies the
// same cover, crop, rotate and placement rules as the filter graph, so a
// still preview matches the video composite.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/chicogong/slot-compositor/pkg/geometry"
	"github.com/chicogong/slot-compositor/pkg/resolve"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// DefaultAspectTolerance is the relative aspect difference below which the
// frame overlay is stretched to the canvas instead of contain-fitted
const DefaultAspectTolerance = 0.01

// Layer is a decoded source and the slot it is drawn into
type Layer struct {
	Slot  schemas.Slot
	Image image.Image
}

// Options tune rendering
type Options struct {
	Filter          schemas.ColorFilter
	AspectTolerance float64
}

// Render draws layers bottom to top onto a canvas filled with its
// background, then the frame on top. The color filter applies to photo
// layers only.
func Render(canvas schemas.Canvas, layers []Layer, frame image.Image, opts Options) (*image.RGBA, error) {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return nil, &schemas.GeometryError{
			Field:  "canvas",
			Reason: fmt.Sprintf("size %dx%d must be positive", canvas.Width, canvas.Height),
		}
	}
	bg, err := canvas.BackgroundColor()
	if err != nil {
		return nil, &schemas.GeometryError{Field: "canvas.background", Reason: err.Error()}
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, canvas.Width, canvas.Height))
	if bg.A > 0 {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	for _, layer := range layers {
		if err := drawLayer(dst, layer, opts.Filter); err != nil {
			return nil, err
		}
	}

	if frame != nil {
		tol := opts.AspectTolerance
		if tol <= 0 {
			tol = DefaultAspectTolerance
		}
		drawFrame(dst, frame, tol)
	}
	return dst, nil
}

// drawLayer cover-scales and center-crops the source into a slot-sized
// tile, filters it, then rotates the tile about the slot center onto dst
func drawLayer(dst *image.RGBA, layer Layer, filter schemas.ColorFilter) error {
	sb := layer.Image.Bounds()
	pt, err := geometry.ComputePixelTransform(layer.Slot.Rect(), sb.Dx(), sb.Dy())
	if err != nil {
		return fmt.Errorf("slot %q: %w", layer.Slot.ID, err)
	}

	// (iw-ow)/2 crop offsets, truncated like the filter graph's crop stage
	offX := float64((pt.CoverWidth - pt.CropWidth) / 2)
	offY := float64((pt.CoverHeight - pt.CropHeight) / 2)
	sx := float64(pt.CoverWidth) / float64(sb.Dx())
	sy := float64(pt.CoverHeight) / float64(sb.Dy())

	tile := image.NewNRGBA(image.Rect(0, 0, pt.CropWidth, pt.CropHeight))
	draw.CatmullRom.Transform(tile, f64.Aff3{
		sx, 0, -offX - sx*float64(sb.Min.X),
		0, sy, -offY - sy*float64(sb.Min.Y),
	}, layer.Image, sb, draw.Src, nil)

	if err := ApplyFilter(tile, filter); err != nil {
		return fmt.Errorf("slot %q: %w", layer.Slot.ID, err)
	}

	if !pt.Rotated() {
		r := image.Rect(pt.X, pt.Y, pt.X+pt.CropWidth, pt.Y+pt.CropHeight)
		draw.Draw(dst, r, tile, image.Point{}, draw.Over)
		return nil
	}

	sin, cos := sincos(pt.Rotation)
	cx := float64(pt.X) + float64(pt.BoundingWidth)/2
	cy := float64(pt.Y) + float64(pt.BoundingHeight)/2
	tx := float64(pt.CropWidth) / 2
	ty := float64(pt.CropHeight) / 2

	// clockwise in y-down canvas space, tile center onto bounding box center
	draw.CatmullRom.Transform(dst, f64.Aff3{
		cos, -sin, cx - cos*tx + sin*ty,
		sin, cos, cy - sin*tx - cos*ty,
	}, tile, tile.Bounds(), draw.Over, nil)
	return nil
}

// sincos snaps quarter turns so they stay pixel exact
func sincos(deg float64) (float64, float64) {
	deg = math.Mod(deg, 360)
	if math.Mod(deg, 90) == 0 {
		switch ((int(deg)/90)%4 + 4) % 4 {
		case 0:
			return 0, 1
		case 1:
			return 1, 0
		case 2:
			return 0, -1
		default:
			return -1, 0
		}
	}
	return math.Sincos(deg * math.Pi / 180)
}

// drawFrame stretches the frame over the canvas, or contain-fits it
// centered when its aspect ratio differs by more than tol
func drawFrame(dst *image.RGBA, frame image.Image, tol float64) {
	db := dst.Bounds()
	fb := frame.Bounds()
	if fb.Empty() {
		return
	}

	r := db
	canvasAspect := float64(db.Dx()) / float64(db.Dy())
	frameAspect := float64(fb.Dx()) / float64(fb.Dy())
	if math.Abs(frameAspect-canvasAspect)/canvasAspect > tol {
		r = containRect(db, fb.Dx(), fb.Dy())
	}

	draw.CatmullRom.Scale(dst, r, frame, fb, draw.Over, nil)
}

// containRect returns the largest rectangle with the aspect of w×h that
// fits entirely within bounds, centered
func containRect(bounds image.Rectangle, w, h int) image.Rectangle {
	scale := math.Min(float64(bounds.Dx())/float64(w), float64(bounds.Dy())/float64(h))
	fw := int(math.Round(float64(w) * scale))
	fh := int(math.Round(float64(h) * scale))

	x := bounds.Min.X + (bounds.Dx()-fw)/2
	y := bounds.Min.Y + (bounds.Dy()-fh)/2
	return image.Rect(x, y, x+fw, y+fh)
}

// Compositor decodes sources and renders layouts
type Compositor struct {
	fetcher Fetcher
	workers int
	opts    Options
	logger  *zap.Logger
}

// NewCompositor creates a compositor decoding with up to workers sources
// in flight
func NewCompositor(fetcher Fetcher, workers int, opts Options, logger *zap.Logger) *Compositor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{fetcher: fetcher, workers: workers, opts: opts, logger: logger}
}

// Composite decodes each resolved layer's still and the frame overlay and
// renders them. Layers whose source cannot be decoded are skipped; if none
// remain the result is ErrNoContent. A frame that cannot be decoded fails
// the composite.
func (c *Compositor) Composite(ctx context.Context, canvas schemas.Canvas, layers []resolve.Layer, frameOverlay string, filter schemas.ColorFilter) (*image.RGBA, error) {
	uris := make([]string, 0, len(layers)+1)
	for _, layer := range layers {
		uris = append(uris, layer.Source(false))
	}
	if frameOverlay != "" {
		uris = append(uris, frameOverlay)
	}

	decoded, failed, err := DecodeAll(ctx, c.fetcher, uris, c.workers)
	if err != nil {
		return nil, err
	}
	if err, ok := failed[frameOverlay]; ok {
		return nil, fmt.Errorf("frame overlay: %w", err)
	}

	drawable := make([]Layer, 0, len(layers))
	for _, layer := range layers {
		src := layer.Source(false)
		img, ok := decoded[src]
		if !ok {
			c.logger.Warn("skipping slot", zap.String("slot_id", layer.Slot.ID), zap.Error(failed[src]))
			continue
		}
		drawable = append(drawable, Layer{Slot: layer.Slot, Image: img})
	}
	if len(drawable) == 0 {
		return nil, schemas.ErrNoContent
	}

	opts := c.opts
	opts.Filter = filter
	return Render(canvas, drawable, decoded[frameOverlay], opts)
}

// Flatten composites img over an opaque color, for encoders without alpha
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}
