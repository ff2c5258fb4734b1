// Package segmentation binds mask managers to scene-wide segmentation refreshes.
package segmentation

import (
	"log/slog"

	"github.com/synthcap/scenecap/internal/mask"
	"github.com/synthcap/scenecap/pkg/core"
)

// ClassConfig configures class segmentation.
type ClassConfig struct {
	Naming mask.NamePolicy
	Policy mask.Policy
	Debug  bool
	// TargetGroup and Pinned drive the stencil strategy overrides.
	TargetGroup func(*core.SceneObject) bool
	Pinned      func(*core.SceneObject) bool
}

// DefaultClassConfig names classes by mesh and spreads IDs evenly.
func DefaultClassConfig() ClassConfig {
	return ClassConfig{Naming: mask.ByMeshName, Policy: mask.SpreadEvenly}
}

// Class segments objects by class into the stencil channel.
type Class struct {
	manager *mask.StencilManager
}

// NewClass creates class segmentation. Instance naming is not a class
// naming and falls back to mesh names.
func NewClass(cfg ClassConfig, log *slog.Logger) *Class {
	if cfg.Naming == mask.ByInstance {
		cfg.Naming = mask.ByMeshName
	}
	return &Class{
		manager: mask.NewStencilManager(mask.StencilConfig{
			Config:      mask.Config{Naming: cfg.Naming, Policy: cfg.Policy, Debug: cfg.Debug},
			TargetGroup: cfg.TargetGroup,
			Pinned:      cfg.Pinned,
		}, log),
	}
}

// Scan refreshes class IDs for scene.
func (c *Class) Scan(scene core.Scene, strategy mask.Strategy) {
	c.manager.Scan(scene, strategy)
}

// InstanceID returns the class ID of obj.
func (c *Class) InstanceID(obj *core.SceneObject) uint8 {
	return c.manager.MaskID(obj)
}

// Manager exposes the underlying stencil manager.
func (c *Class) Manager() *mask.StencilManager {
	return c.manager
}

// Instance segments individual objects into the vertex color channel.
// A targeted Instance isolates the target passed to Scan.
type Instance struct {
	manager  *mask.VertexColorManager
	targeted bool
}

// NewInstance creates instance segmentation.
func NewInstance(policy mask.Policy, debug bool, log *slog.Logger) *Instance {
	return newInstance(policy, debug, false, log)
}

// NewTargetedInstance creates instance segmentation that isolates one target.
func NewTargetedInstance(policy mask.Policy, debug bool, log *slog.Logger) *Instance {
	return newInstance(policy, debug, true, log)
}

func newInstance(policy mask.Policy, debug, targeted bool, log *slog.Logger) *Instance {
	return &Instance{
		manager: mask.NewVertexColorManager(mask.Config{
			Naming: mask.ByInstance,
			Policy: policy,
			Debug:  debug,
		}, log),
		targeted: targeted,
	}
}

// Scan refreshes instance IDs for scene. The target is ignored unless the
// Instance is targeted.
func (s *Instance) Scan(scene core.Scene, target *core.SceneObject) {
	if !s.targeted {
		target = nil
	}
	s.manager.Scan(scene, target)
}

// Targeted reports whether the Instance isolates a target.
func (s *Instance) Targeted() bool {
	return s.targeted
}

// InstanceID returns the instance ID of obj.
func (s *Instance) InstanceID(obj *core.SceneObject) uint32 {
	return s.manager.MaskID(obj)
}

// Manager exposes the underlying vertex color manager.
func (s *Instance) Manager() *mask.VertexColorManager {
	return s.manager
}
