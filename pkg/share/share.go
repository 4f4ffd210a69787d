// Package share renders the link to a published composite as a QR code the
// guest can scan from the booth screen or the print.
package share

import (
	"fmt"
	"image"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the QR image edge in pixels
const DefaultSize = 256

// QRCodePNG encodes url as a PNG QR code size pixels wide
func QRCodePNG(url string, size int) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("share url is empty")
	}
	if size <= 0 {
		size = DefaultSize
	}

	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// QRCodeImage returns the QR code as an image, for drawing onto a print
// layout. It uses the high error-correction level.
func QRCodeImage(url string, size int) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("share url is empty")
	}
	if size <= 0 {
		size = DefaultSize
	}

	q, err := qrcode.New(url, qrcode.High)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return q.Image(size), nil
}
