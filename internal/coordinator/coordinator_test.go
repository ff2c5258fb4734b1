package coordinator

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/mask"
	"github.com/synthcap/scenecap/internal/scheduler"
	"github.com/synthcap/scenecap/pkg/core"
)

type nullSink struct{ frames int }

func (s *nullSink) Init() error                             { return nil }
func (s *nullSink) Close() error                            { return nil }
func (s *nullSink) CanAcceptMore() bool                     { return true }
func (s *nullSink) IsBusy() bool                            { return false }
func (s *nullSink) OnStartCapturing(core.SessionInfo) error { return nil }
func (s *nullSink) OnStopCapturing() error                  { return nil }
func (s *nullSink) OnCapturingCompleted() error             { return nil }
func (s *nullSink) HandleAnnotationData(core.Annotation, core.ExtractorInfo, core.ViewpointInfo, core.FrameRef) error {
	return nil
}

func (s *nullSink) HandlePixelData(*core.PixelData, core.ExtractorInfo, core.ViewpointInfo, core.FrameRef) error {
	s.frames++
	return nil
}

type blank struct{}

func (blank) CapturePixels(core.ViewpointInfo, core.ExtractorInfo) (*core.PixelData, error) {
	return &core.PixelData{Image: image.NewGray(image.Rect(0, 0, 1, 1))}, nil
}

type fixture struct {
	world *core.World
	sched *scheduler.Scheduler
	reg   *Registry
	log   *slog.Logger
}

func newFixture() *fixture {
	part := func(asset string) []*core.MeshPart {
		return []*core.MeshPart{{Name: "mesh", Kind: core.MeshStatic, Asset: asset, Visible: true}}
	}
	world := core.NewWorld("yard",
		&core.SceneObject{Name: "crate_1", Tag: &core.CapturableTag{Tag: "crate", Include: true}, Parts: part("SM_Crate")},
		&core.SceneObject{Name: "crate_2", Tag: &core.CapturableTag{Tag: "crate", Include: true}, Parts: part("SM_Crate")},
		&core.SceneObject{Name: "barrel", Tag: &core.CapturableTag{Tag: "barrel", Include: true}, Parts: part("SM_Barrel")},
		&core.SceneObject{Name: "floor", Parts: part("SM_Floor")},
	)
	return &fixture{
		world: world,
		sched: scheduler.New(),
		reg:   NewRegistry(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) capturer(t *testing.T, name string, maxFrames int, channels ...core.Channel) *capturer.Capturer {
	t.Helper()
	s := capturer.DefaultSettings()
	s.MaxFrames = maxFrames
	c, err := capturer.New(capturer.Options{Name: name, Active: true, Settings: s, Sink: &nullSink{}},
		capturer.Dependencies{Scheduler: f.sched, Game: f.world, Scene: f.world, Logger: f.log})
	require.NoError(t, err)
	if len(channels) == 0 {
		channels = []core.Channel{core.ChannelColor}
	}
	for _, ch := range channels {
		c.AddExtractor(&capturer.Extractor{Name: ch.String(), Channel: ch, Enabled: true, Pixels: blank{}})
	}
	c.AddViewpoint(capturer.ViewpointSettings{Name: "vp", Enabled: true})
	return c
}

func (f *fixture) coordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(cfg, Dependencies{Scene: f.world, Registry: f.reg, Logger: f.log})
	require.NoError(t, err)
	t.Cleanup(c.Teardown)
	return c
}

func (f *fixture) run(ticks int, capturers ...*capturer.Capturer) {
	for range ticks {
		f.sched.Advance(100 * time.Millisecond)
		for _, c := range capturers {
			c.Tick()
		}
	}
}

func TestMarkersAreCapturedInOrder(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 2)
	b := f.capturer(t, "b", 1)
	coord := f.coordinator(t, DefaultConfig())

	var trace []string
	coord.SetupCompleted.Subscribe(func(c *Coordinator) {
		trace = append(trace, fmt.Sprintf("setup:%d", c.MarkerIndex()))
	})
	for _, c := range []*capturer.Capturer{a, b} {
		c.Completed.Subscribe(func(c *capturer.Capturer) {
			trace = append(trace, fmt.Sprintf("done:%s:%d", c.Name(), coord.MarkerIndex()))
		})
	}
	exits := 0
	coord.exit = func() { exits++ }
	coord.cfg.AutoExit = true

	markers := []*core.Marker{
		{Name: "north", Location: core.Position3D{X: 100}},
		nil,
		{Name: "south", Location: core.Position3D{X: -100}},
	}
	coord.BeginPlay(markers, a, b)
	require.Len(t, coord.Markers(), 2, "nil markers are pruned")
	assert.Equal(t, capturer.Running, a.State())
	assert.Equal(t, 100.0, a.Location().X)

	f.run(20, a, b)

	assert.Equal(t, []string{
		"setup:0",
		"done:b:0",
		"done:a:0",
		"setup:1",
		"done:b:1",
		"done:a:1",
	}, trace)
	assert.Equal(t, Captured, coord.State())
	assert.Equal(t, 1, exits)
	assert.Equal(t, -100.0, a.Location().X)
	assert.Equal(t, capturer.Active, a.State(), "capturers are reset after the last marker")
}

func TestStaticSceneSetsUpOnce(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 1)
	coord := f.coordinator(t, DefaultConfig())

	setups := 0
	coord.SetupCompleted.Subscribe(func(*Coordinator) { setups++ })
	coord.BeginPlay(nil, a)

	assert.Equal(t, Ready, coord.State())
	assert.Equal(t, 1, setups)
	assert.Equal(t, capturer.Active, a.State(), "static scenes leave starting to the capturers")

	a.Start()
	f.run(5, a)
	assert.Equal(t, Captured, coord.State())

	coord.ResetState()
	assert.Equal(t, Ready, coord.State())
}

func TestSecondCoordinatorDeactivates(t *testing.T) {
	f := newFixture()
	first := f.coordinator(t, DefaultConfig())
	second := f.coordinator(t, DefaultConfig())

	first.BeginPlay(nil)
	second.BeginPlay(nil)

	assert.Equal(t, Ready, first.State())
	assert.Equal(t, NotActive, second.State())
	assert.Same(t, first, f.reg.Leader("yard"))
}

func TestCapturersWaitForSceneSetup(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 1)
	coord := f.coordinator(t, DefaultConfig())
	coord.Discover(a)

	// a leader that has not set up the scene yet holds capturers back
	require.True(t, f.reg.Register("yard", coord))
	a.Start()
	assert.Equal(t, capturer.Active, a.State())
	assert.True(t, a.Waiting())

	coord.SetupScene()
	f.sched.Advance(capturer.StartRetryDelay)
	assert.Equal(t, capturer.Running, a.State())
}

func TestAllowList(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 1)
	b := f.capturer(t, "b", 1)
	cfg := DefaultConfig()
	cfg.AllowList = []string{"b"}
	coord := f.coordinator(t, cfg)

	coord.BeginPlay([]*core.Marker{{Name: "m"}}, a, b)
	assert.Equal(t, capturer.NotActive, a.State())
	assert.Equal(t, capturer.Running, b.State())

	f.run(5, a, b)
	assert.Equal(t, Captured, coord.State(), "deactivated capturers do not hold back completion")
}

func TestInstanceScanOnlyWhenVertexColorNeeded(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 0)
	coord := f.coordinator(t, DefaultConfig())
	coord.BeginPlay(nil, a)

	assert.NotZero(t, coord.Class().InstanceID(f.world.Find("barrel")))
	assert.Empty(t, coord.Instance().Manager().Assignment(), "no vertex color extractor, no instance scan")

	g := newFixture()
	b := g.capturer(t, "b", 0, core.ChannelColor, core.ChannelInstanceMask)
	coord2 := g.coordinator(t, DefaultConfig())
	coord2.BeginPlay(nil, b)

	crate := g.world.Find("crate_1")
	id := coord2.Instance().InstanceID(crate)
	assert.NotZero(t, id)
	assert.Equal(t, mask.IDToColor(id), crate.VertexColor)
	assert.Zero(t, g.world.Find("floor").VertexColor.A, "untagged objects keep their color")
}

func TestSecondaryPhaseIsolatesTarget(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 0, core.ChannelColor)
	a.AddExtractor(&capturer.Extractor{Name: "bg", Channel: core.ChannelInstanceMask, Secondary: true, Pixels: blank{}})
	coord := f.coordinator(t, DefaultConfig())
	coord.BeginPlay(nil, a)

	ex := a.Extractors()
	require.Len(t, ex, 2)
	assert.True(t, ex[0].Enabled)
	assert.False(t, ex[1].Enabled)

	target := coord.SetTarget("barrel")
	require.NotNil(t, target)
	coord.SetPhase(capturer.Secondary)

	assert.False(t, ex[0].Enabled)
	assert.True(t, ex[0].WasEnabled)
	assert.True(t, ex[1].Enabled)

	assert.Equal(t, mask.IDToColor(0), f.world.Find("crate_1").VertexColor)
	barrelID := coord.TargetedInstance().InstanceID(target)
	assert.Equal(t, mask.IDToColor(barrelID), target.VertexColor)

	_, inst := coord.SegmentationIDs(target)
	assert.Equal(t, barrelID, inst)

	coord.SetPhase(capturer.Primary)
	assert.True(t, ex[0].Enabled)
	assert.False(t, ex[1].Enabled)
}

func TestTeardownReleasesScene(t *testing.T) {
	f := newFixture()
	a := f.capturer(t, "a", 1)
	coord := f.coordinator(t, DefaultConfig())
	coord.BeginPlay([]*core.Marker{{Name: "m"}}, a)

	coord.Teardown()
	assert.Nil(t, f.reg.Leader("yard"))
	assert.Equal(t, NotActive, coord.State())
	assert.Zero(t, a.Completed.Len())
	assert.True(t, f.reg.SceneReady("yard"))
}
