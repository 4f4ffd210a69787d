package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
)

// Output formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// Encode writes img as PNG or JPEG. JPEG has no alpha, so the image is
// flattened over white first.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatJPEG, "jpg":
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		return jpeg.Encode(w, Flatten(img, color.White), &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// EncodeBytes is Encode into memory
func EncodeBytes(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type for an output format
func ContentType(format string) string {
	switch format {
	case FormatJPEG, "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
