// Package visualizer keeps the most recent frame of every channel for
// live display.
package visualizer

import (
	"slices"
	"sync"

	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

var _ sink.Handler = (*Visualizer)(nil)

// Frame is the latest capture of one channel.
type Frame struct {
	Pixels *core.PixelData
	Ref    core.FrameRef
}

// Visualizer is a sink.Handler that never applies backpressure.
type Visualizer struct {
	mu      sync.RWMutex
	frames  map[string]Frame
	session string
}

// New creates an empty visualizer.
func New() *Visualizer {
	return &Visualizer{frames: make(map[string]Frame)}
}

// ChannelName identifies a viewpoint/extractor pair.
func ChannelName(vp, ex string) string {
	return vp + "/" + ex
}

func (v *Visualizer) Init() error         { return nil }
func (v *Visualizer) Close() error        { return nil }
func (v *Visualizer) CanAcceptMore() bool { return true }
func (v *Visualizer) IsBusy() bool        { return false }

func (v *Visualizer) OnStartCapturing(session core.SessionInfo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.frames)
	v.session = session.ID
	return nil
}

func (v *Visualizer) OnStopCapturing() error      { return nil }
func (v *Visualizer) OnCapturingCompleted() error { return nil }

func (v *Visualizer) HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	if px == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames[ChannelName(vp.Name, ex.Name)] = Frame{Pixels: px, Ref: ref}
	return nil
}

// HandleAnnotationData ignores annotations; only pixels are displayed.
func (v *Visualizer) HandleAnnotationData(core.Annotation, core.ExtractorInfo, core.ViewpointInfo, core.FrameRef) error {
	return nil
}

// Latest returns the newest frame of a channel.
func (v *Visualizer) Latest(channel string) (Frame, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f, ok := v.frames[channel]
	return f, ok
}

// Channels returns the sorted names of channels with a frame.
func (v *Visualizer) Channels() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.frames))
	for name := range v.frames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Session returns the id of the session being displayed.
func (v *Visualizer) Session() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.session
}
