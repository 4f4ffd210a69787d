package schemas

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/geometry"
)

// Canvas is the fixed output frame
type Canvas struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// Background is "#RRGGBB" or "#RRGGBBAA"; empty or "transparent" leaves
	// the canvas fully transparent.
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
}

// BackgroundColor parses Background
func (c Canvas) BackgroundColor() (color.NRGBA, error) {
	return ParseColor(c.Background)
}

// Slot is a rectangle in canvas space that one piece of captured media is
// placed into
type Slot struct {
	ID       string  `json:"id" yaml:"id"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Width    float64 `json:"width" yaml:"width"`
	Height   float64 `json:"height" yaml:"height"`
	Rotation float64 `json:"rotation,omitempty" yaml:"rotation,omitempty"` // degrees, clockwise

	// DuplicateOfSlotID makes this slot show the media captured for another
	// slot while keeping its own geometry. Duplicate slots are never captured
	// into directly.
	DuplicateOfSlotID string `json:"duplicate_of_slot_id,omitempty" yaml:"duplicate_of_slot_id,omitempty"`
}

// IsDuplicate reports whether the slot reuses another slot's media
func (s Slot) IsDuplicate() bool {
	return s.DuplicateOfSlotID != ""
}

// Rect returns the slot geometry
func (s Slot) Rect() geometry.Rect {
	return geometry.Rect{
		X:        s.X,
		Y:        s.Y,
		Width:    s.Width,
		Height:   s.Height,
		Rotation: s.Rotation,
	}
}

// MediaAsset is one captured unit bound to a (non-duplicate) slot
type MediaAsset struct {
	SlotID    string `json:"slot_id" yaml:"slot_id"`
	ImagePath string `json:"image_path" yaml:"image_path"`
	VideoPath string `json:"video_path,omitempty" yaml:"video_path,omitempty"`
}

// HasVideo reports whether a live companion clip was captured
func (a MediaAsset) HasVideo() bool {
	return a.VideoPath != ""
}

// Layout is a canvas plus its slots in z-order (first is bottom-most)
type Layout struct {
	Canvas Canvas `json:"canvas" yaml:"canvas"`
	Slots  []Slot `json:"slots" yaml:"slots"`

	// FrameOverlay is the decorative template drawn above every slot
	FrameOverlay string `json:"frame_overlay,omitempty" yaml:"frame_overlay,omitempty"`
}

// SlotByID finds a slot by its identifier
func (l *Layout) SlotByID(id string) (Slot, bool) {
	for _, slot := range l.Slots {
		if slot.ID == id {
			return slot, true
		}
	}
	return Slot{}, false
}

// ParseColor parses "#RRGGBB" / "#RRGGBBAA" (the leading '#' is optional).
// Empty and "transparent" yield a zero-alpha color.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "transparent" {
		return color.NRGBA{}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: expected #RRGGBB or #RRGGBBAA", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
