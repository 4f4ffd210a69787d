// Package validator rejects malformed composite requests before any graph or
// raster work starts.
package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

// Validator validates layouts and job specs
type Validator struct {
	// CheckRemote enables SSRF checks on http(s) asset URIs
	CheckRemote bool
}

// New creates a new Validator
func New() *Validator {
	return &Validator{CheckRemote: true}
}

// ValidateLayout checks canvas and slot geometry and duplicate references.
// Every failure is an *schemas.GeometryError.
func (v *Validator) ValidateLayout(layout *schemas.Layout) error {
	if layout.Canvas.Width <= 0 || layout.Canvas.Height <= 0 {
		return &schemas.GeometryError{
			Field:  "canvas",
			Reason: fmt.Sprintf("size %dx%d must be positive", layout.Canvas.Width, layout.Canvas.Height),
		}
	}
	if _, err := layout.Canvas.BackgroundColor(); err != nil {
		return &schemas.GeometryError{Field: "canvas.background", Reason: err.Error()}
	}

	byID := make(map[string]schemas.Slot, len(layout.Slots))
	for i, slot := range layout.Slots {
		if strings.TrimSpace(slot.ID) == "" {
			return &schemas.GeometryError{Field: fmt.Sprintf("slots[%d].id", i), Reason: "must not be empty"}
		}
		if _, dup := byID[slot.ID]; dup {
			return &schemas.GeometryError{SlotID: slot.ID, Field: "id", Reason: "is not unique"}
		}
		if !finite(slot.Width, slot.Height) {
			return &schemas.GeometryError{SlotID: slot.ID, Field: "size", Reason: "must be finite"}
		}
		if slot.Width <= 0 || slot.Height <= 0 {
			return &schemas.GeometryError{
				SlotID: slot.ID,
				Field:  "size",
				Reason: fmt.Sprintf("%gx%g must be positive", slot.Width, slot.Height),
			}
		}
		// both composite paths crop to the slot size rounded to whole pixels
		if math.Round(slot.Width) < 1 || math.Round(slot.Height) < 1 {
			return &schemas.GeometryError{
				SlotID: slot.ID,
				Field:  "size",
				Reason: fmt.Sprintf("%gx%g is smaller than one pixel", slot.Width, slot.Height),
			}
		}
		if !finite(slot.X, slot.Y, slot.Rotation) {
			return &schemas.GeometryError{SlotID: slot.ID, Field: "position", Reason: "must be finite"}
		}
		byID[slot.ID] = slot
	}

	for _, slot := range layout.Slots {
		if !slot.IsDuplicate() {
			continue
		}
		ref := slot.DuplicateOfSlotID
		if ref == slot.ID {
			return &schemas.GeometryError{SlotID: slot.ID, Field: "duplicate_of_slot_id", Reason: "references itself"}
		}
		target, ok := byID[ref]
		if !ok {
			return &schemas.GeometryError{
				SlotID: slot.ID,
				Field:  "duplicate_of_slot_id",
				Reason: fmt.Sprintf("references unknown slot %q", ref),
			}
		}
		if target.IsDuplicate() {
			return &schemas.GeometryError{
				SlotID: slot.ID,
				Field:  "duplicate_of_slot_id",
				Reason: fmt.Sprintf("references duplicate slot %q", ref),
			}
		}
	}

	return nil
}

// ValidateAssets checks that assets bind to capturable slots and that their
// sources are acceptable. Assets for unknown slots are ignored later and are
// not an error here.
func (v *Validator) ValidateAssets(layout *schemas.Layout, assets []schemas.MediaAsset) error {
	seen := make(map[string]bool, len(assets))
	for i, asset := range assets {
		if slot, ok := layout.SlotByID(asset.SlotID); ok && slot.IsDuplicate() {
			return &schemas.GeometryError{
				SlotID: asset.SlotID,
				Field:  fmt.Sprintf("assets[%d]", i),
				Reason: "duplicate slots cannot receive a capture",
			}
		}
		if seen[asset.SlotID] {
			return fmt.Errorf("asset %d: slot %q has more than one asset", i, asset.SlotID)
		}
		seen[asset.SlotID] = true

		for _, src := range []string{asset.ImagePath, asset.VideoPath} {
			if err := v.validateSource(src); err != nil {
				return fmt.Errorf("asset %d (%s): %w", i, asset.SlotID, err)
			}
		}
	}

	if layout.FrameOverlay != "" {
		if err := v.validateSource(layout.FrameOverlay); err != nil {
			return fmt.Errorf("frame overlay: %w", err)
		}
	}
	return nil
}

// Validate checks a full job spec
func (v *Validator) Validate(spec *schemas.JobSpec) error {
	if err := v.ValidateLayout(&spec.Layout); err != nil {
		return err
	}
	if err := v.ValidateAssets(&spec.Layout, spec.Assets); err != nil {
		return err
	}
	if err := spec.Filter.Validate(); err != nil {
		return err
	}

	if spec.Output.Destination == "" {
		return fmt.Errorf("output destination is required")
	}
	scheme, _, err := storage.ParseURI(spec.Output.Destination)
	if err != nil {
		return fmt.Errorf("output: invalid URI: %w", err)
	}
	if !storage.IsAllowedScheme(scheme) {
		return fmt.Errorf("output: scheme '%s' not allowed", scheme)
	}

	if spec.MaxDuration != nil && spec.MaxDuration.Duration <= 0 {
		return fmt.Errorf("max_duration must be positive")
	}
	return nil
}

// validateSource accepts plain filesystem paths and whitelisted URIs
func (v *Validator) validateSource(src string) error {
	if src == "" || !strings.Contains(src, "://") {
		return nil
	}

	scheme, _, err := storage.ParseURI(src)
	if err != nil {
		return fmt.Errorf("invalid URI: %w", err)
	}
	if !storage.IsAllowedScheme(scheme) {
		return fmt.Errorf("scheme '%s' not allowed", scheme)
	}

	if v.CheckRemote && (scheme == "http" || scheme == "https") {
		if err := ValidateHTTPURI(src); err != nil {
			return fmt.Errorf("security check failed: %w", err)
		}
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, f := range vals {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
