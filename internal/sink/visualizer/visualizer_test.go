package visualizer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/pkg/core"
)

func TestKeepsLatestFramePerChannel(t *testing.T) {
	v := New()
	require.NoError(t, v.OnStartCapturing(core.SessionInfo{ID: "a"}))

	px := func() *core.PixelData { return &core.PixelData{Image: image.NewGray(image.Rect(0, 0, 1, 1))} }
	vp := core.ViewpointInfo{Name: "left"}
	for i := range 3 {
		require.NoError(t, v.HandlePixelData(px(), core.ExtractorInfo{Name: "rgb"}, vp, core.FrameRef{Index: i}))
	}
	require.NoError(t, v.HandlePixelData(px(), core.ExtractorInfo{Name: "depth"}, vp, core.FrameRef{Index: 0}))

	assert.Equal(t, []string{"left/depth", "left/rgb"}, v.Channels())
	f, ok := v.Latest("left/rgb")
	require.True(t, ok)
	assert.Equal(t, 2, f.Ref.Index)
	assert.True(t, v.CanAcceptMore())
	assert.False(t, v.IsBusy())
}

func TestNewSessionClearsFrames(t *testing.T) {
	v := New()
	require.NoError(t, v.HandlePixelData(&core.PixelData{}, core.ExtractorInfo{Name: "rgb"}, core.ViewpointInfo{Name: "vp"}, core.FrameRef{}))
	require.NoError(t, v.OnStartCapturing(core.SessionInfo{ID: "b"}))

	assert.Empty(t, v.Channels())
	assert.Equal(t, "b", v.Session())
}
