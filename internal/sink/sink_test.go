package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synthcap/scenecap/pkg/core"
)

// Compile-time interface check
var _ Handler = (*Multi)(nil)

type fakeHandler struct {
	accept  bool
	busy    bool
	pixels  int
	started int
	err     error
}

func (f *fakeHandler) Init() error                             { return nil }
func (f *fakeHandler) Close() error                            { return nil }
func (f *fakeHandler) CanAcceptMore() bool                     { return f.accept }
func (f *fakeHandler) IsBusy() bool                            { return f.busy }
func (f *fakeHandler) OnStartCapturing(core.SessionInfo) error { f.started++; return f.err }
func (f *fakeHandler) OnStopCapturing() error                  { return nil }
func (f *fakeHandler) OnCapturingCompleted() error             { return nil }
func (f *fakeHandler) HandleAnnotationData(core.Annotation, core.ExtractorInfo, core.ViewpointInfo, core.FrameRef) error {
	return nil
}
func (f *fakeHandler) HandlePixelData(*core.PixelData, core.ExtractorInfo, core.ViewpointInfo, core.FrameRef) error {
	f.pixels++
	return f.err
}

func TestMulti_Backpressure(t *testing.T) {
	a := &fakeHandler{accept: true}
	b := &fakeHandler{accept: true}
	m := NewMulti(a, nil, b)

	assert.Len(t, m.Handlers(), 2)
	assert.True(t, m.CanAcceptMore())
	assert.False(t, m.IsBusy())

	b.accept = false
	a.busy = true
	assert.False(t, m.CanAcceptMore())
	assert.True(t, m.IsBusy())
}

func TestMulti_FanOutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeHandler{err: boom}
	b := &fakeHandler{}
	m := NewMulti(a, b)

	err := m.HandlePixelData(&core.PixelData{}, core.ExtractorInfo{}, core.ViewpointInfo{}, core.FrameRef{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.pixels)
	assert.Equal(t, 1, b.pixels)

	assert.ErrorIs(t, m.OnStartCapturing(core.SessionInfo{}), boom)
	assert.Equal(t, 1, b.started)
}
