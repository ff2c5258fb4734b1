// pkg/core/scene.go
package core

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

// Position3D is an engine-local position or extent.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point converts the position to a 3D geometry point. Non-finite
// coordinates are rejected and yield an empty XYZ point.
func (p Position3D) Point() (geom.Point, error) {
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Z:    p.Z,
		Type: geom.DimXYZ,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), fmt.Errorf("invalid position %v: %w", p, err)
	}
	return point, nil
}

// MeshKind identifies what backs a renderable part.
type MeshKind uint8

const (
	MeshOther MeshKind = iota
	MeshStatic
	MeshSkeletal
)

// MeshPart is one renderable component of a SceneObject.
// Stencil and CustomDepth are written by the stencil mask channel.
type MeshPart struct {
	Name    string   `json:"name"`
	Kind    MeshKind `json:"kind"`
	Asset   string   `json:"asset"`
	Visible bool     `json:"visible"`

	Stencil     uint8 `json:"-"`
	CustomDepth bool  `json:"-"`
}

// CapturableTag marks an object as an annotation target.
type CapturableTag struct {
	Tag     string `json:"tag"`
	Include bool   `json:"include"`
}

// Valid reports whether the tag opts the object into capture.
func (t *CapturableTag) Valid() bool {
	return t != nil && t.Include && t.Tag != ""
}

// SceneObject describes one object present in a scene. Optional
// capabilities are nil fields: no Tag means no tag component.
type SceneObject struct {
	Name     string         `json:"name"`
	Class    string         `json:"class"`
	Hidden   bool           `json:"hidden"`
	Tag      *CapturableTag `json:"tag,omitempty"`
	Parts    []*MeshPart    `json:"parts"`
	Location Position3D     `json:"location"`
	Extent   Position3D     `json:"extent"`

	// vertex color channel
	VertexColor color.RGBA `json:"-"`
	Selected    bool       `json:"-"`
}

// HasVisiblePart reports whether at least one renderable part is visible.
func (o *SceneObject) HasVisiblePart() bool {
	for _, p := range o.Parts {
		if p != nil && p.Visible {
			return true
		}
	}
	return false
}

// Eligible reports whether the object takes part in a mask scan.
func (o *SceneObject) Eligible() bool {
	return o != nil && !o.Hidden && o.HasVisiblePart()
}

// Scene enumerates the objects currently present in a loaded level.
type Scene interface {
	Name() string
	Objects() []*SceneObject
}

// GameClock is the pausable simulation clock surrounding the capture.
type GameClock interface {
	Paused() bool
	SetPaused(paused bool)
}

// World is a plain in-memory Scene and GameClock.
type World struct {
	SceneName string
	Items     []*SceneObject
	paused    bool
}

// NewWorld creates a World holding the given objects.
func NewWorld(name string, objects ...*SceneObject) *World {
	return &World{SceneName: name, Items: objects}
}

func (w *World) Name() string             { return w.SceneName }
func (w *World) Objects() []*SceneObject  { return w.Items }
func (w *World) Paused() bool             { return w.paused }
func (w *World) SetPaused(paused bool)    { w.paused = paused }
func (w *World) Add(objs ...*SceneObject) { w.Items = append(w.Items, objs...) }

// Find returns the first object with the given instance name.
func (w *World) Find(name string) *SceneObject {
	for _, o := range w.Items {
		if o != nil && o.Name == name {
			return o
		}
	}
	return nil
}

// NameContains builds an object predicate matching a name substring.
// An empty substring matches nothing.
func NameContains(sub string) func(*SceneObject) bool {
	return func(o *SceneObject) bool {
		return sub != "" && o != nil && strings.Contains(o.Name, sub)
	}
}
