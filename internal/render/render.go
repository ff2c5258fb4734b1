// Package render draws a top-down preview of a scene for every capture
// channel. It stands in for an engine renderer when scenecap runs
// headless.
package render

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/disintegration/imaging"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/pkg/core"
)

var (
	_ capturer.PixelSource      = (*Renderer)(nil)
	_ capturer.AnnotationSource = (*Renderer)(nil)
)

// minHalfView keeps the projection finite for viewpoints at ground level.
const minHalfView = 1.0

var (
	colorBackground = color.NRGBA{R: 40, G: 40, B: 40, A: 255}
	maskBackground  = color.NRGBA{A: 255}
	depthFar        = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Renderer projects the objects of a scene straight down from each
// viewpoint. The ground area in view grows with height and field of view.
type Renderer struct {
	scene core.Scene
}

// New creates a renderer for scene.
func New(scene core.Scene) *Renderer {
	return &Renderer{scene: scene}
}

type view struct {
	vp         core.ViewpointInfo
	pixPerUnit float64
}

func newView(vp core.ViewpointInfo) (view, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return view{}, fmt.Errorf("viewpoint %q has no resolution", vp.Name)
	}
	fov := vp.FOV
	if fov <= 0 || fov >= 180 {
		fov = 90
	}
	half := math.Max(math.Abs(vp.Location.Z)*math.Tan(fov*math.Pi/360), minHalfView)
	return view{vp: vp, pixPerUnit: float64(vp.Width) / (2 * half)}, nil
}

// rect returns the on-image bounds of o, clipped to the frame.
func (v view) rect(o *core.SceneObject) image.Rectangle {
	cx, cy := float64(v.vp.Width)/2, float64(v.vp.Height)/2
	dx := o.Location.X - v.vp.Location.X
	dy := o.Location.Y - v.vp.Location.Y
	ex, ey := math.Max(o.Extent.X, 0.5), math.Max(o.Extent.Y, 0.5)

	r := image.Rect(
		int(math.Round(cx+(dx-ex)*v.pixPerUnit)),
		int(math.Round(cy-(dy+ey)*v.pixPerUnit)),
		int(math.Round(cx+(dx+ex)*v.pixPerUnit)),
		int(math.Round(cy-(dy-ey)*v.pixPerUnit)),
	)
	return r.Intersect(image.Rect(0, 0, v.vp.Width, v.vp.Height))
}

// visible returns the eligible objects ordered bottom to top.
func (r *Renderer) visible() []*core.SceneObject {
	var objs []*core.SceneObject
	for _, o := range r.scene.Objects() {
		if o.Eligible() {
			objs = append(objs, o)
		}
	}
	slices.SortStableFunc(objs, func(a, b *core.SceneObject) int {
		return cmpFloat(a.Location.Z+a.Extent.Z, b.Location.Z+b.Extent.Z)
	})
	return objs
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CapturePixels renders channel ex.Channel from viewpoint vp.
func (r *Renderer) CapturePixels(vp core.ViewpointInfo, ex core.ExtractorInfo) (*core.PixelData, error) {
	v, err := newView(vp)
	if err != nil {
		return nil, err
	}

	var bg color.NRGBA
	switch ex.Channel {
	case core.ChannelColor:
		bg = colorBackground
	case core.ChannelDepth:
		bg = depthFar
	case core.ChannelClassMask, core.ChannelInstanceMask:
		bg = maskBackground
	default:
		return nil, fmt.Errorf("channel %s has no pixels", ex.Channel)
	}

	img := imaging.New(vp.Width, vp.Height, bg)
	for _, o := range r.visible() {
		c, ok := fill(v, o, ex.Channel)
		if !ok {
			continue
		}
		rect := v.rect(o)
		if rect.Empty() {
			continue
		}
		img = imaging.Paste(img, imaging.New(rect.Dx(), rect.Dy(), c), rect.Min)
	}

	if ex.Channel == core.ChannelDepth || ex.Channel == core.ChannelClassMask {
		return &core.PixelData{Image: imaging.Grayscale(img)}, nil
	}
	return &core.PixelData{Image: img}, nil
}

// fill returns the color of o in channel ch, or false when o does not
// show in that channel.
func fill(v view, o *core.SceneObject, ch core.Channel) (color.NRGBA, bool) {
	switch ch {
	case core.ChannelColor:
		return colorOf(o.Name), true
	case core.ChannelDepth:
		height := math.Abs(v.vp.Location.Z)
		if height == 0 {
			return depthFar, true
		}
		dist := math.Max(height-(o.Location.Z+o.Extent.Z), 0)
		g := uint8(math.Min(dist/height, 1) * 255)
		return color.NRGBA{R: g, G: g, B: g, A: 255}, true
	case core.ChannelClassMask:
		for _, p := range o.Parts {
			if p != nil && p.Visible && p.CustomDepth {
				return color.NRGBA{R: p.Stencil, G: p.Stencil, B: p.Stencil, A: 255}, true
			}
		}
		return color.NRGBA{}, false
	case core.ChannelInstanceMask:
		if o.VertexColor.A == 0 {
			return color.NRGBA{}, false
		}
		vc := o.VertexColor
		return color.NRGBA{R: vc.R, G: vc.G, B: vc.B, A: 255}, true
	}
	return color.NRGBA{}, false
}

// colorOf derives a stable preview color from an object name.
func colorOf(name string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(name))
	s := h.Sum32()
	return color.NRGBA{R: uint8(s>>16) | 0x40, G: uint8(s>>8) | 0x40, B: uint8(s) | 0x40, A: 255}
}

// Box is the annotation of one tagged object.
type Box struct {
	Name  string `json:"name"`
	Class string `json:"class"`
	Tag   string `json:"tag"`
	// Bounds is [minX, minY, maxX, maxY] in pixels.
	Bounds [4]int `json:"bounds"`
}

// CaptureAnnotation lists the pixel bounds of every tagged object in view.
func (r *Renderer) CaptureAnnotation(vp core.ViewpointInfo, ex core.ExtractorInfo) (core.Annotation, error) {
	if ex.Channel != core.ChannelAnnotation {
		return nil, errors.New("annotations need the annotation channel")
	}
	v, err := newView(vp)
	if err != nil {
		return nil, err
	}

	boxes := []Box{}
	for _, o := range r.visible() {
		if !o.Tag.Valid() {
			continue
		}
		rect := v.rect(o)
		if rect.Empty() {
			continue
		}
		boxes = append(boxes, Box{
			Name:   o.Name,
			Class:  o.Class,
			Tag:    o.Tag.Tag,
			Bounds: [4]int{rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y},
		})
	}
	return core.Annotation{
		"viewpoint": vp.Name,
		"fov":       vp.FOV,
		"location":  vp.Location,
		"objects":   boxes,
	}, nil
}
