package mask

import (
	"log/slog"
	"strings"

	"github.com/synthcap/scenecap/pkg/core"
)

// Strategy selects which objects receive their stencil ID.
type Strategy uint8

const (
	// StrategyAll masks every eligible object.
	StrategyAll Strategy = iota
	// StrategyIsolateGroup masks only the target group and writes 0 elsewhere.
	StrategyIsolateGroup
)

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) Strategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "isolate", "isolate_group", "1":
		return StrategyIsolateGroup
	default:
		return StrategyAll
	}
}

// StencilConfig configures a StencilManager.
type StencilConfig struct {
	Config
	// TargetGroup matches the objects whose ID is carried to pinned objects.
	TargetGroup func(*core.SceneObject) bool
	// Pinned matches objects re-tagged last with the target group's ID.
	Pinned func(*core.SceneObject) bool
}

// StencilManager writes 8-bit IDs into the custom depth stencil of mesh parts.
type StencilManager struct {
	Manager
	group  func(*core.SceneObject) bool
	pinned func(*core.SceneObject) bool
}

// NewStencilManager creates a stencil channel manager.
func NewStencilManager(cfg StencilConfig, log *slog.Logger) *StencilManager {
	return &StencilManager{
		Manager: newManager(cfg.Config, StencilSpace, "stencil", log),
		group:   cfg.TargetGroup,
		pinned:  cfg.Pinned,
	}
}

// Scan rebuilds the assignment for scene and applies it under strategy.
func (s *StencilManager) Scan(scene core.Scene, strategy Strategy) {
	if !s.collect(scene) {
		return
	}

	var groupID uint8
	var pinned []*core.SceneObject
	for _, obj := range s.actors {
		id := uint8(s.maskID(obj))
		inGroup := s.group != nil && s.group(obj)
		if s.pinned != nil && s.pinned(obj) {
			pinned = append(pinned, obj)
		}

		switch strategy {
		case StrategyIsolateGroup:
			if !inGroup {
				applyStencil(obj, 0)
				continue
			}
			if id > 0 {
				groupID = id
				applyStencil(obj, id)
			}
		default:
			if id == 0 {
				continue
			}
			if inGroup {
				groupID = id
			}
			applyStencil(obj, id)
		}
	}

	for _, obj := range pinned {
		applyStencil(obj, groupID)
	}
}

// MaskID returns the stencil ID of obj from the latest scan.
func (s *StencilManager) MaskID(obj *core.SceneObject) uint8 {
	return uint8(s.maskID(obj))
}

func applyStencil(obj *core.SceneObject, id uint8) {
	for _, p := range obj.Parts {
		if p == nil || !p.Visible {
			continue
		}
		p.Stencil = id
		p.CustomDepth = id != 0
	}
}
