package capturer

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/internal/scheduler"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

type pixelCall struct {
	extractor string
	viewpoint string
	ref       core.FrameRef
}

type fakeSink struct {
	accept    bool
	busy      bool
	sessions  []core.SessionInfo
	pixels    []pixelCall
	notes     []pixelCall
	stopped   int
	completed int
}

var _ sink.Handler = (*fakeSink)(nil)

func newFakeSink() *fakeSink { return &fakeSink{accept: true} }

func (f *fakeSink) Init() error         { return nil }
func (f *fakeSink) Close() error        { return nil }
func (f *fakeSink) CanAcceptMore() bool { return f.accept }
func (f *fakeSink) IsBusy() bool        { return f.busy }

func (f *fakeSink) OnStartCapturing(s core.SessionInfo) error {
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeSink) OnStopCapturing() error {
	f.stopped++
	return nil
}

func (f *fakeSink) OnCapturingCompleted() error {
	f.completed++
	return nil
}

func (f *fakeSink) HandlePixelData(_ *core.PixelData, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	f.pixels = append(f.pixels, pixelCall{ex.Name, vp.Name, ref})
	return nil
}

func (f *fakeSink) HandleAnnotationData(_ core.Annotation, ex core.ExtractorInfo, vp core.ViewpointInfo, ref core.FrameRef) error {
	f.notes = append(f.notes, pixelCall{ex.Name, vp.Name, ref})
	return nil
}

type solidSource struct{}

func (solidSource) CapturePixels(vp core.ViewpointInfo, _ core.ExtractorInfo) (*core.PixelData, error) {
	return &core.PixelData{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}, nil
}

type boundsSource struct{}

func (boundsSource) CaptureAnnotation(vp core.ViewpointInfo, _ core.ExtractorInfo) (core.Annotation, error) {
	return core.Annotation{"fov": vp.FOV}, nil
}

type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

type harness struct {
	c     *Capturer
	sink  *fakeSink
	sched *scheduler.Scheduler
	clock *clock.Mock
	world *core.World
	ready bool
	logs  *recordHandler
}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	h := &harness{
		sink:  newFakeSink(),
		sched: scheduler.New(),
		clock: clock.NewMock(),
		world: core.NewWorld("test"),
		ready: true,
		logs:  &recordHandler{},
	}
	c, err := New(Options{Name: "cam", Active: true, Settings: s, Sink: h.sink}, Dependencies{
		Scheduler: h.sched,
		Clock:     h.clock,
		Game:      h.world,
		Ready:     func() bool { return h.ready },
		Scene:     h.world,
		Logger:    slog.New(h.logs),
	})
	require.NoError(t, err)
	c.AddExtractor(&Extractor{Name: "rgb", Channel: core.ChannelColor, Enabled: true, Pixels: solidSource{}})
	c.AddViewpoint(ViewpointSettings{Name: "main", Enabled: true})
	h.c = c
	return h
}

// step advances simulation and wall time by dt, then ticks the capturer.
func (h *harness) step(dt time.Duration) {
	h.sched.Advance(dt)
	h.clock.Add(dt)
	h.c.Tick()
}
