// Package sink defines the downstream consumers of captured frames.
package sink

import (
	"errors"

	"github.com/synthcap/scenecap/pkg/core"
)

// Handler persists or displays captured data and reports whether it can
// take more. Implementations are called from the tick goroutine.
type Handler interface {
	// Lifecycle
	Init() error
	Close() error

	// Backpressure
	CanAcceptMore() bool
	IsBusy() bool

	// Session
	OnStartCapturing(session core.SessionInfo) error
	OnStopCapturing() error
	OnCapturingCompleted() error

	// Data
	HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error
	HandleAnnotationData(a core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error
}

// Multi fans calls out to several handlers. It accepts more only when
// every handler does and is busy while any handler is.
type Multi struct {
	handlers []Handler
}

// NewMulti combines handlers, skipping nil entries.
func NewMulti(handlers ...Handler) *Multi {
	valid := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			valid = append(valid, h)
		}
	}
	return &Multi{handlers: valid}
}

// Handlers returns the wrapped handlers.
func (m *Multi) Handlers() []Handler {
	return m.handlers
}

func (m *Multi) each(fn func(Handler) error) error {
	var errs []error
	for _, h := range m.handlers {
		if err := fn(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Init() error {
	return m.each(func(h Handler) error { return h.Init() })
}

func (m *Multi) Close() error {
	return m.each(func(h Handler) error { return h.Close() })
}

func (m *Multi) CanAcceptMore() bool {
	for _, h := range m.handlers {
		if !h.CanAcceptMore() {
			return false
		}
	}
	return true
}

func (m *Multi) IsBusy() bool {
	for _, h := range m.handlers {
		if h.IsBusy() {
			return true
		}
	}
	return false
}

func (m *Multi) OnStartCapturing(session core.SessionInfo) error {
	return m.each(func(h Handler) error { return h.OnStartCapturing(session) })
}

func (m *Multi) OnStopCapturing() error {
	return m.each(func(h Handler) error { return h.OnStopCapturing() })
}

func (m *Multi) OnCapturingCompleted() error {
	return m.each(func(h Handler) error { return h.OnCapturingCompleted() })
}

func (m *Multi) HandlePixelData(px *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	return m.each(func(h Handler) error { return h.HandlePixelData(px, ex, vp, ref) })
}

func (m *Multi) HandleAnnotationData(a core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	return m.each(func(h Handler) error { return h.HandleAnnotationData(a, ex, vp, ref) })
}
