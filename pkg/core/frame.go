// pkg/core/frame.go
package core

import (
	"fmt"
	"image"
	"strings"
)

// Channel is the kind of data a feature extractor produces.
type Channel uint8

const (
	ChannelColor Channel = iota
	ChannelDepth
	ChannelClassMask    // stencil
	ChannelInstanceMask // vertex color
	ChannelAnnotation
)

func (c Channel) String() string {
	switch c {
	case ChannelColor:
		return "color"
	case ChannelDepth:
		return "depth"
	case ChannelClassMask:
		return "class_mask"
	case ChannelInstanceMask:
		return "instance_mask"
	case ChannelAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	for c := ChannelColor; c <= ChannelAnnotation; c++ {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// UsesVertexColor reports whether the channel relies on instance vertex colors.
func (c Channel) UsesVertexColor() bool {
	return c == ChannelInstanceMask
}

// FrameRef locates a captured frame inside a session.
type FrameRef struct {
	Index    int `json:"index"`
	Group    int `json:"group"`
	SubImage int `json:"subImage"`
}

// PixelData is one rendered image delivered by a pixel extractor.
type PixelData struct {
	Image image.Image
}

// Annotation is structured per-frame data delivered by an annotation extractor.
type Annotation map[string]any

// ExtractorInfo identifies the extractor that produced a payload.
type ExtractorInfo struct {
	Name        string  `json:"name"`
	Channel     Channel `json:"channel"`
	FilePostfix string  `json:"filePostfix,omitempty"`
}

// ViewpointInfo identifies the viewpoint that produced a payload.
type ViewpointInfo struct {
	Name        string     `json:"name"`
	FilePostfix string     `json:"filePostfix,omitempty"`
	FOV         float64    `json:"fov"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Location    Position3D `json:"location"`
}

// SessionInfo describes a capture session to sinks at start time.
type SessionInfo struct {
	ID         string
	Capturer   string
	Scene      Scene
	Marker     string
	Viewpoints []ViewpointInfo
	// SegmentationIDs resolves class and instance IDs for settings export.
	SegmentationIDs func(o *SceneObject) (class uint8, instance uint32)
	// OutputPath is the capturer's configured output directory, if any.
	OutputPath string
}
