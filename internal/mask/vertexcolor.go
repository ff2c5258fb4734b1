package mask

import (
	"image/color"
	"log/slog"

	"github.com/synthcap/scenecap/pkg/core"
)

// VertexColorManager writes IDs as vertex colors of tagged objects.
type VertexColorManager struct {
	Manager
}

// NewVertexColorManager creates a vertex color channel manager.
func NewVertexColorManager(cfg Config, log *slog.Logger) *VertexColorManager {
	return &VertexColorManager{
		Manager: newManager(cfg, MaxVertexColorID, "vertex_color", log),
	}
}

// Scan rebuilds the assignment for scene and applies it to tagged objects.
// With a non-nil target every other tagged object is written as 0.
func (v *VertexColorManager) Scan(scene core.Scene, target *core.SceneObject) {
	if !v.collect(scene) {
		return
	}

	for _, obj := range v.actors {
		if obj.Tag == nil {
			continue
		}
		id := v.maskID(obj)
		if id == 0 {
			continue
		}
		if target != nil && obj != target {
			id = 0
		}
		obj.VertexColor = IDToColor(id)
		obj.Selected = true
	}
}

// MaskID returns the vertex color ID of obj from the latest scan.
func (v *VertexColorManager) MaskID(obj *core.SceneObject) uint32 {
	return v.maskID(obj)
}

// IDToColor packs a 24-bit ID into an opaque RGB color.
func IDToColor(id uint32) color.RGBA {
	return color.RGBA{
		R: uint8(id >> 16),
		G: uint8(id >> 8),
		B: uint8(id),
		A: 0xFF,
	}
}

// ColorToID unpacks a color written by IDToColor.
func ColorToID(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
