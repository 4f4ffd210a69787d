// Package resolve binds slots to captured media, following duplicate
// references and dropping slots that have nothing to show.
package resolve

import (
	"fmt"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// Layer is one drawable slot with the media it shows
type Layer struct {
	Slot  schemas.Slot
	Asset schemas.MediaAsset
}

// Source returns the path the layer draws from: the companion clip when
// video is wanted and present, the still otherwise
func (l Layer) Source(video bool) string {
	if video && l.Asset.HasVideo() {
		return l.Asset.VideoPath
	}
	return l.Asset.ImagePath
}

// Result is the layer list in z-order plus the slots that were skipped
type Result struct {
	Layers  []Layer
	Skipped []string
}

// Layers resolves every slot of layout against assets, preserving slot
// order. A duplicate slot shows its target's asset with its own geometry.
// Slots without media are skipped; if every slot is skipped the result is
// ErrNoContent.
//
// The layout must already be valid (see validator.ValidateLayout).
func Layers(layout *schemas.Layout, assets []schemas.MediaAsset) (*Result, error) {
	bySlot := make(map[string]schemas.MediaAsset, len(assets))
	for _, asset := range assets {
		if asset.ImagePath == "" {
			continue
		}
		if _, ok := bySlot[asset.SlotID]; !ok {
			bySlot[asset.SlotID] = asset
		}
	}

	res := &Result{}
	for _, slot := range layout.Slots {
		sourceID := slot.ID
		if slot.IsDuplicate() {
			sourceID = slot.DuplicateOfSlotID
		}

		asset, ok := bySlot[sourceID]
		if !ok {
			res.Skipped = append(res.Skipped, slot.ID)
			continue
		}
		res.Layers = append(res.Layers, Layer{Slot: slot, Asset: asset})
	}

	if len(res.Layers) == 0 {
		return res, fmt.Errorf("%w (%d slots)", schemas.ErrNoContent, len(layout.Slots))
	}
	return res, nil
}
