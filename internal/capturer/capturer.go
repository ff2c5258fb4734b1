// Package capturer implements the per-capturer capture state machine. A
// Capturer is driven by Tick from the simulation loop and never blocks:
// waiting for the scene is a scheduled retry.
package capturer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/synthcap/scenecap/internal/events"
	"github.com/synthcap/scenecap/internal/scheduler"
	"github.com/synthcap/scenecap/internal/sink"
	"github.com/synthcap/scenecap/pkg/core"
)

const (
	// StartRetryDelay is the wait between start attempts on an unready scene.
	StartRetryDelay = time.Second
	// StartWarnAfter is the accumulated wait after which each retry warns.
	StartWarnAfter = 5 * time.Second
)

// Options describe a capturer instance.
type Options struct {
	Name       string
	Active     bool
	Settings   Settings
	Sink       sink.Handler
	Visualizer sink.Handler
}

// Dependencies are the collaborators shared by every capturer in a scene.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	// Clock measures wall time for statistics. Defaults to the real clock.
	Clock clock.Clock
	// Game is paused while the sink cannot keep up. Optional.
	Game core.GameClock
	// Ready reports scene readiness. A nil Ready means always ready.
	Ready func() bool
	// Scene is described to sinks at session start. Optional.
	Scene  core.Scene
	Logger *slog.Logger
	// RetryDelay and WarnAfter override StartRetryDelay and StartWarnAfter.
	RetryDelay time.Duration
	WarnAfter  time.Duration
}

// Capturer owns a set of viewpoints and drives them through the capture
// state machine.
type Capturer struct {
	name     string
	active   bool
	settings Settings
	deps     Dependencies
	log      *slog.Logger

	state      State
	sink       sink.Handler
	visualizer sink.Handler

	extractors []*Extractor
	viewpoints []*Viewpoint

	counter        FrameCounter
	sessionID      string
	retry          scheduler.Handle
	startWait      time.Duration
	pendingStart   bool
	autoStarted    bool
	skipFirstFrame bool
	needExport     bool
	pausedGame     bool
	lastCapture    time.Duration
	simStart       time.Duration
	startedAt      time.Time
	capturedFor    time.Duration

	marker     *core.Marker
	location   core.Position3D
	group      int
	subImage   int
	segmentIDs func(*core.SceneObject) (uint8, uint32)

	// Started, Stopped and Completed fire synchronously on the tick goroutine.
	Started   events.Event[*Capturer]
	Stopped   events.Event[*Capturer]
	Completed events.Event[*Capturer]

	frames       metric.Int64Counter
	backpressure metric.Int64Counter
	attrs        metric.MeasurementOption
}

// New creates a capturer in the Active or NotActive state.
func New(opts Options, deps Dependencies) (*Capturer, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("capturer requires a scheduler")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = StartRetryDelay
	}
	if deps.WarnAfter <= 0 {
		deps.WarnAfter = StartWarnAfter
	}

	c := &Capturer{
		name:       opts.Name,
		active:     opts.Active,
		settings:   opts.Settings,
		deps:       deps,
		log:        deps.Logger.With("component", "capturer", "capturer", opts.Name),
		sink:       opts.Sink,
		visualizer: opts.Visualizer,
		attrs:      metric.WithAttributes(attribute.String("capturer", opts.Name)),
	}
	c.state = c.restingState()

	m := meter()
	var err error
	c.frames, err = m.Int64Counter("capturer.frames.captured",
		metric.WithDescription("Frames counted towards the session limit"))
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	c.backpressure, err = m.Int64Counter("capturer.backpressure",
		metric.WithDescription("Ticks where the sink could not accept more data"))
	if err != nil {
		return nil, fmt.Errorf("creating backpressure counter: %w", err)
	}

	return c, nil
}

func (c *Capturer) restingState() State {
	if c.active {
		return Active
	}
	return NotActive
}

// Name returns the capturer name.
func (c *Capturer) Name() string { return c.name }

// State returns the current state.
func (c *Capturer) State() State { return c.state }

// IsActive reports the activation flag.
func (c *Capturer) IsActive() bool { return c.active }

// Settings returns the active settings.
func (c *Capturer) Settings() Settings { return c.settings }

// SessionID returns the id of the current or last session.
func (c *Capturer) SessionID() string { return c.sessionID }

// Sink returns the data handler.
func (c *Capturer) Sink() sink.Handler { return c.sink }

// SetSink replaces the data handler.
func (c *Capturer) SetSink(h sink.Handler) { c.sink = h }

// SetVisualizer replaces the optional visualizer.
func (c *Capturer) SetVisualizer(h sink.Handler) { c.visualizer = h }

// SetGroup sets the group index stamped on captured frames.
func (c *Capturer) SetGroup(group int) { c.group = group }

// SetSubImage sets the sub image index stamped on captured frames.
func (c *Capturer) SetSubImage(i int) { c.subImage = i }

// SetSegmentationLookup sets how sessions resolve object segmentation IDs.
func (c *Capturer) SetSegmentationLookup(fn func(*core.SceneObject) (uint8, uint32)) {
	c.segmentIDs = fn
}

// SetReadiness replaces the scene readiness check.
func (c *Capturer) SetReadiness(ready func() bool) { c.deps.Ready = ready }

// ApplySettings replaces the settings. Running sessions keep their
// counters but pick up the new limits on the next tick.
func (c *Capturer) ApplySettings(s Settings) {
	c.settings = s
	for _, vp := range c.viewpoints {
		vp.fov = s.FOV
	}
}

// SetActive changes the activation flag. Deactivating stops a session.
func (c *Capturer) SetActive(active bool) {
	c.active = active
	switch {
	case !active:
		if c.state == Running || c.state == Paused || c.pendingStart {
			c.Stop()
		}
		c.state = NotActive
	case c.state == NotActive:
		c.state = Active
	}
}

// AddExtractor registers a capturer-level extractor and gives every
// viewpoint its own copy.
func (c *Capturer) AddExtractor(ex *Extractor) {
	if ex == nil {
		return
	}
	c.extractors = append(c.extractors, ex)
	for _, vp := range c.viewpoints {
		vp.extractors = append(vp.extractors, ex.clone())
	}
}

// Extractors returns the capturer-level extractors.
func (c *Capturer) Extractors() []*Extractor { return c.extractors }

// AddViewpoint creates a viewpoint with the current extractors.
func (c *Capturer) AddViewpoint(s ViewpointSettings) *Viewpoint {
	vp := newViewpoint(c, s)
	c.viewpoints = append(c.viewpoints, vp)
	return vp
}

// Viewpoints returns the capturer's viewpoints.
func (c *Capturer) Viewpoints() []*Viewpoint { return c.viewpoints }

// ObserveMarker moves the capturer to a focused marker.
func (c *Capturer) ObserveMarker(m *core.Marker) {
	c.marker = m
	if m != nil {
		c.location = m.Location
	}
}

// Marker returns the marker the capturer is attached to.
func (c *Capturer) Marker() *core.Marker { return c.marker }

// Location returns the capturer's position.
func (c *Capturer) Location() core.Position3D { return c.location }

// Start requests a capture session. It is a no-op while a session is in
// flight. Without a sink the request is rejected.
func (c *Capturer) Start() {
	switch c.state {
	case NotActive:
		c.log.Debug("start ignored, capturer not active")
		return
	case Running, Paused:
		return
	}
	if c.pendingStart {
		return
	}
	if c.sink == nil {
		c.log.Error("cannot start capturing without a data handler")
		return
	}

	c.pendingStart = true
	c.skipFirstFrame = true
	c.needExport = false
	c.tryStart()
}

// tryStart starts the pending session if the scene is ready, otherwise
// keeps one retry scheduled.
func (c *Capturer) tryStart() {
	if !c.pendingStart {
		return
	}
	if c.sceneReady() {
		c.startInternal()
		return
	}
	if c.deps.Scheduler.Pending(c.retry) {
		return
	}

	c.retry = c.deps.Scheduler.After(c.deps.RetryDelay, c.onRetry)
	c.startWait += c.deps.RetryDelay
	if c.startWait > c.deps.WarnAfter {
		c.log.Warn("scene still not ready for capture", "waited", c.startWait)
	} else {
		c.log.Debug("scene not ready, retrying", "in", c.deps.RetryDelay)
	}
}

func (c *Capturer) onRetry() {
	c.retry = 0
	c.tryStart()
}

func (c *Capturer) cancelRetry() {
	c.deps.Scheduler.Cancel(c.retry)
	c.retry = 0
}

func (c *Capturer) sceneReady() bool {
	return c.deps.Ready == nil || c.deps.Ready()
}

func (c *Capturer) startInternal() {
	c.cancelRetry()
	c.pendingStart = false
	c.startWait = 0

	if !c.active {
		c.state = NotActive
		return
	}
	if c.sink == nil {
		c.log.Error("cannot start capturing without a data handler")
		return
	}

	for _, vp := range c.viewpoints {
		vp.syncExtractors(c.extractors)
	}

	c.sessionID = uuid.NewString()
	c.counter.Reset()
	c.capturedFor = 0
	c.state = Running
	c.startedAt = c.deps.Clock.Now()
	c.simStart = c.deps.Scheduler.Now()
	c.lastCapture = c.simStart - c.settings.Interval()

	if err := c.sink.OnStartCapturing(c.sessionInfo()); err != nil {
		c.log.Error("data handler failed to start session", "error", err)
	}
	if c.visualizer != nil {
		if err := c.visualizer.OnStartCapturing(c.sessionInfo()); err != nil {
			c.log.Warn("visualizer failed to start session", "error", err)
		}
	}
	for _, vp := range c.viewpoints {
		vp.start()
	}

	c.log.Info("capturing started", "session", c.sessionID, "maxFrames", c.settings.MaxFrames)
	c.Started.Emit(c)
}

func (c *Capturer) sessionInfo() core.SessionInfo {
	info := core.SessionInfo{
		ID:              c.sessionID,
		Capturer:        c.name,
		Scene:           c.deps.Scene,
		SegmentationIDs: c.segmentIDs,
		OutputPath:      c.settings.OutputPath,
	}
	if c.marker != nil {
		info.Marker = c.marker.Name
	}
	for _, vp := range c.viewpoints {
		info.Viewpoints = append(info.Viewpoints, vp.Info())
	}
	return info
}

// Tick runs one scheduling step: pending starts first, then capture.
func (c *Capturer) Tick() {
	if c.settings.AutoStart && !c.autoStarted && c.state == Active {
		c.autoStarted = true
		c.Start()
	}
	c.tryStart()
	c.checkCapture()
}

func (c *Capturer) checkCapture() {
	now := c.deps.Scheduler.Now()
	if c.state == Running {
		if now-c.lastCapture >= c.settings.Interval() {
			c.needExport = true
		}
		c.capturedFor = c.deps.Clock.Since(c.startedAt)
	} else {
		c.needExport = false
	}

	if !c.needExport || c.sink == nil || !c.sceneReady() {
		return
	}

	if c.sink.CanAcceptMore() {
		if c.pausedGame && c.deps.Game != nil && c.deps.Game.Paused() {
			// resume the simulation this tick, capture on the next one
			c.deps.Game.SetPaused(false)
			c.pausedGame = false
			c.log.Debug("data handler caught up, resuming game")
			return
		}
		c.captureFrame(now)
		return
	}

	c.backpressure.Add(context.Background(), 1, c.attrs)
	if c.settings.PauseGameWhenFlushing && c.deps.Game != nil && !c.deps.Game.Paused() {
		c.deps.Game.SetPaused(true)
		c.pausedGame = true
		c.log.Debug("data handler is full, pausing game")
	}
}

func (c *Capturer) captureFrame(now time.Duration) {
	since := now - max(c.lastCapture, c.simStart)
	c.lastCapture = now
	c.needExport = false

	if c.settings.MaxFrames > 0 && c.counter.Total() >= c.settings.MaxFrames {
		if !c.sink.IsBusy() {
			c.onCompleted()
		}
		return
	}

	ref := core.FrameRef{Index: c.counter.Total(), Group: c.group, SubImage: c.subImage}
	for _, vp := range c.viewpoints {
		if vp.Enabled() && vp.Capturing() {
			c.captureViewpoint(vp, ref)
		}
	}

	// the warm-up frame is not counted but its time is
	c.counter.AddDuration(since)
	if c.skipFirstFrame {
		c.skipFirstFrame = false
	} else {
		c.counter.Increment()
		c.frames.Add(context.Background(), 1, c.attrs)
	}

	for _, vp := range c.viewpoints {
		vp.randomize()
	}
}

func (c *Capturer) captureViewpoint(vp *Viewpoint, ref core.FrameRef) {
	info := vp.Info()
	for _, ex := range vp.extractors {
		if !ex.Enabled {
			continue
		}
		exInfo := ex.Info()
		switch {
		case ex.Pixels != nil:
			px, err := ex.Pixels.CapturePixels(info, exInfo)
			if err != nil {
				c.log.Warn("pixel extraction failed", "viewpoint", info.Name, "extractor", ex.Name, "error", err)
				continue
			}
			if err := c.sink.HandlePixelData(px, exInfo, info, ref); err != nil {
				c.log.Error("data handler rejected pixels", "extractor", ex.Name, "frame", ref.Index, "error", err)
			}
			if c.visualizer != nil {
				if err := c.visualizer.HandlePixelData(px, exInfo, info, ref); err != nil {
					c.log.Warn("visualizer rejected pixels", "extractor", ex.Name, "error", err)
				}
			}
		case ex.Annotations != nil:
			a, err := ex.Annotations.CaptureAnnotation(info, exInfo)
			if err != nil {
				c.log.Warn("annotation extraction failed", "viewpoint", info.Name, "extractor", ex.Name, "error", err)
				continue
			}
			if err := c.sink.HandleAnnotationData(a, exInfo, info, ref); err != nil {
				c.log.Error("data handler rejected annotation", "extractor", ex.Name, "frame", ref.Index, "error", err)
			}
		}
	}
}

func (c *Capturer) onCompleted() {
	if c.state != Running {
		return
	}
	for _, vp := range c.viewpoints {
		vp.stop()
	}
	c.releaseGame()
	c.state = Completed
	c.log.Info("capturing completed", "session", c.sessionID, "frames", c.counter.Total())

	if err := c.sink.OnCapturingCompleted(); err != nil {
		c.log.Error("data handler failed to complete session", "error", err)
	}
	if c.visualizer != nil {
		if err := c.visualizer.OnCapturingCompleted(); err != nil {
			c.log.Warn("visualizer failed to complete session", "error", err)
		}
	}
	c.Completed.Emit(c)
}

// Pause suspends a running session.
func (c *Capturer) Pause() {
	if c.state == Running {
		c.state = Paused
	}
}

// Resume continues a paused session.
func (c *Capturer) Resume() {
	if c.state == Paused {
		c.state = Running
	}
}

// Stop ends the session early and returns to the resting state.
func (c *Capturer) Stop() {
	c.cancelRetry()
	wasCapturing := c.state == Running || c.state == Paused
	c.pendingStart = false
	c.needExport = false
	c.startWait = 0
	for _, vp := range c.viewpoints {
		vp.stop()
	}
	c.releaseGame()
	c.counter.Reset()
	if c.state != NotActive {
		c.state = c.restingState()
	}
	if !wasCapturing {
		return
	}

	if c.sink != nil {
		if err := c.sink.OnStopCapturing(); err != nil {
			c.log.Error("data handler failed to stop session", "error", err)
		}
	}
	c.log.Info("capturing stopped", "session", c.sessionID)
	c.Stopped.Emit(c)
}

// Reset prepares the capturer for a fresh session.
func (c *Capturer) Reset() {
	c.cancelRetry()
	for _, vp := range c.viewpoints {
		vp.stop()
	}
	c.releaseGame()
	c.counter.Reset()
	c.pendingStart = false
	c.startWait = 0
	c.skipFirstFrame = true
	c.needExport = false
	c.lastCapture = 0
	c.simStart = 0
	c.capturedFor = 0
	c.state = c.restingState()
}

// Close cancels pending work. The capturer must not be ticked afterwards.
func (c *Capturer) Close() {
	if c.state == Running || c.state == Paused {
		c.Stop()
	}
	c.cancelRetry()
	c.releaseGame()
	c.Started.Clear()
	c.Stopped.Clear()
	c.Completed.Clear()
}

func (c *Capturer) releaseGame() {
	if c.pausedGame && c.deps.Game != nil {
		c.deps.Game.SetPaused(false)
	}
	c.pausedGame = false
}

// Waiting reports whether a start request is waiting for the scene.
func (c *Capturer) Waiting() bool {
	return c.pendingStart
}
