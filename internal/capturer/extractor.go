package capturer

import "github.com/synthcap/scenecap/pkg/core"

// PixelSource renders one pixel channel for a viewpoint.
type PixelSource interface {
	CapturePixels(vp core.ViewpointInfo, ex core.ExtractorInfo) (*core.PixelData, error)
}

// AnnotationSource derives structured data for a viewpoint.
type AnnotationSource interface {
	CaptureAnnotation(vp core.ViewpointInfo, ex core.ExtractorInfo) (core.Annotation, error)
}

// Extractor produces one kind of output per captured frame. Exactly one of
// Pixels or Annotations is expected to be set.
type Extractor struct {
	Name        string
	Channel     core.Channel
	FilePostfix string
	Enabled     bool
	// WasEnabled remembers Enabled while a secondary phase has switched the
	// extractor off.
	WasEnabled bool
	// Secondary extractors only run during the secondary phase.
	Secondary bool

	Pixels      PixelSource
	Annotations AnnotationSource
}

// Info describes the extractor to sinks.
func (e *Extractor) Info() core.ExtractorInfo {
	return core.ExtractorInfo{
		Name:        e.Name,
		Channel:     e.Channel,
		FilePostfix: e.FilePostfix,
	}
}

// UsesVertexColor reports whether the extractor reads instance vertex colors.
func (e *Extractor) UsesVertexColor() bool {
	return e.Channel.UsesVertexColor()
}

func (e *Extractor) clone() *Extractor {
	cp := *e
	return &cp
}

// Phase selects which extractor subset is active.
type Phase uint8

const (
	Primary Phase = iota
	Secondary
)

func (p Phase) String() string {
	if p == Secondary {
		return "secondary"
	}
	return "primary"
}

// ApplyPhase enables the extractor subset of phase, remembering the
// primary extractors' state across a secondary phase.
func (e *Extractor) ApplyPhase(p Phase) {
	if e.Secondary {
		e.Enabled = p == Secondary
		return
	}
	if p == Secondary {
		if e.Enabled {
			e.WasEnabled = true
		}
		e.Enabled = false
		return
	}
	if e.WasEnabled || e.Enabled {
		e.Enabled = true
		e.WasEnabled = true
	}
}
