// Package coordinator sequences segmentation refreshes and capture sessions
// across the markers of a scene.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/events"
	"github.com/synthcap/scenecap/internal/mask"
	"github.com/synthcap/scenecap/internal/segmentation"
	"github.com/synthcap/scenecap/pkg/core"
)

// State is the lifecycle state of a Coordinator.
type State uint32

const (
	NotActive State = iota
	Active
	Ready
	Captured
)

func (s State) String() string {
	switch s {
	case NotActive:
		return "not_active"
	case Active:
		return "active"
	case Ready:
		return "ready"
	case Captured:
		return "captured"
	default:
		return "unknown"
	}
}

// Config controls marker iteration and segmentation.
type Config struct {
	CaptureAtAllMarkers bool
	// AutoExit calls Dependencies.Exit once every marker is captured.
	AutoExit bool
	Strategy mask.Strategy
	Class    segmentation.ClassConfig
	// InstancePolicy allocates vertex color IDs.
	InstancePolicy mask.Policy
	Debug          bool
	// AllowList, when not empty, activates only the named capturers.
	AllowList []string
}

// DefaultConfig iterates all markers with the default class configuration.
func DefaultConfig() Config {
	return Config{
		CaptureAtAllMarkers: true,
		Strategy:            mask.StrategyAll,
		Class:               segmentation.DefaultClassConfig(),
		InstancePolicy:      mask.SpreadEvenly,
	}
}

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	Scene    core.Scene
	Registry *Registry
	Logger   *slog.Logger
	// Exit is called when AutoExit is set and the scene is fully captured.
	Exit func()
}

// Coordinator drives all capturers of one scene through its markers.
type Coordinator struct {
	cfg   Config
	scene core.Scene
	reg   *Registry
	log   *slog.Logger
	exit  func()

	state     atomic.Uint32
	captureAt bool
	markers   []*core.Marker
	current   *core.Marker
	index     int

	capturers []*capturer.Capturer
	subs      map[*capturer.Capturer]events.Subscription

	class    *segmentation.Class
	instance *segmentation.Instance
	targeted *segmentation.Instance
	phase    capturer.Phase
	target   *core.SceneObject

	// SetupCompleted fires after each segmentation refresh.
	SetupCompleted events.Event[*Coordinator]
	// AllCaptured fires once the last marker is done.
	AllCaptured events.Event[*Coordinator]

	setups metric.Int64Counter
}

// New creates a coordinator in the Active state.
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Scene == nil {
		return nil, errors.New("coordinator requires a scene")
	}
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("component", "coordinator", "scene", deps.Scene.Name())

	c := &Coordinator{
		cfg:      cfg,
		scene:    deps.Scene,
		reg:      deps.Registry,
		log:      log,
		exit:     deps.Exit,
		subs:     make(map[*capturer.Capturer]events.Subscription),
		class:    segmentation.NewClass(cfg.Class, log),
		instance: segmentation.NewInstance(cfg.InstancePolicy, cfg.Debug, log),
		targeted: segmentation.NewTargetedInstance(cfg.InstancePolicy, cfg.Debug, log),
	}
	c.state.Store(uint32(Active))

	var err error
	c.setups, err = meter().Int64Counter("coordinator.scene.setups",
		metric.WithDescription("Segmentation refreshes performed"))
	if err != nil {
		return nil, fmt.Errorf("creating setups counter: %w", err)
	}
	return c, nil
}

// State returns the current state. Safe for concurrent use.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(uint32(s))
}

// BeginPlay claims the scene, discovers capturers and sets up the first
// marker. A coordinator that loses the leadership deactivates itself.
func (c *Coordinator) BeginPlay(markers []*core.Marker, capturers ...*capturer.Capturer) {
	if c.State() != Active {
		return
	}
	if !c.reg.Register(c.scene.Name(), c) {
		c.log.Warn("another coordinator already leads this scene, deactivating")
		c.setState(NotActive)
		return
	}

	c.markers = slices.DeleteFunc(slices.Clone(markers), func(m *core.Marker) bool { return m == nil })
	c.captureAt = c.cfg.CaptureAtAllMarkers && len(c.markers) > 0

	c.Discover(capturers...)
	c.ApplyAllowList(c.cfg.AllowList)

	c.log.Info("coordinator started", "markers", len(c.markers), "capturers", len(c.capturers))
	if c.captureAt {
		c.index = -1
		c.FocusNextMarker()
	} else {
		c.index = 0
		c.SetupScene()
	}
}

// Discover subscribes to the completion of every capturer. Capturers
// already known are skipped.
func (c *Coordinator) Discover(capturers ...*capturer.Capturer) {
	for _, cp := range capturers {
		if cp == nil {
			continue
		}
		if _, ok := c.subs[cp]; ok {
			continue
		}
		c.capturers = append(c.capturers, cp)
		c.subs[cp] = cp.Completed.Subscribe(c.onCapturingCompleted)
		cp.SetReadiness(c.sceneReady)
		cp.SetSegmentationLookup(c.SegmentationIDs)
	}
}

func (c *Coordinator) sceneReady() bool {
	return c.reg.SceneReady(c.scene.Name())
}

// ApplyAllowList stops and deactivates every capturer whose name is not
// in names. An empty list leaves activation untouched.
func (c *Coordinator) ApplyAllowList(names []string) {
	if len(names) == 0 {
		return
	}
	for _, cp := range c.capturers {
		cp.Stop()
		cp.SetActive(false)
	}
	for _, cp := range c.capturers {
		if slices.Contains(names, cp.Name()) {
			cp.SetActive(true)
		}
	}
}

// SetupScene attaches active capturers to the current marker and refreshes
// segmentation.
func (c *Coordinator) SetupScene() {
	if c.index >= 0 && c.index < len(c.markers) {
		if c.current != nil {
			c.current.RemoveAllObservers()
		}
		c.current = c.markers[c.index]
	}
	if c.current != nil {
		for _, cp := range c.capturers {
			if cp.IsActive() {
				c.current.AddObserver(cp)
			}
		}
	}

	c.UpdateSegmentation()

	c.setState(Ready)
	c.setups.Add(context.Background(), 1)
	c.log.Debug("scene set up", "marker", c.markerName(), "index", c.index)
	c.SetupCompleted.Emit(c)
}

// UpdateSegmentation rescans class IDs, applies the extractor phase and
// rescans instance IDs when any active capturer needs vertex colors.
func (c *Coordinator) UpdateSegmentation() {
	c.class.Scan(c.scene, c.cfg.Strategy)

	needInstance := false
	for _, cp := range c.capturers {
		if !cp.IsActive() {
			continue
		}
		for _, ex := range cp.Extractors() {
			ex.ApplyPhase(c.phase)
			if ex.Enabled && ex.UsesVertexColor() {
				needInstance = true
			}
		}
	}
	if !needInstance {
		return
	}

	if c.phase == capturer.Secondary {
		c.targeted.Scan(c.scene, c.target)
		return
	}
	c.instance.Scan(c.scene, nil)
}

// FocusNextMarker sets up the next marker and starts every capturer that
// is not deactivated.
func (c *Coordinator) FocusNextMarker() {
	if !c.captureAt || c.index >= len(c.markers)-1 {
		return
	}
	c.index++
	c.SetupScene()

	for _, cp := range c.capturers {
		if cp.State() == capturer.NotActive {
			continue
		}
		cp.SetGroup(c.index)
		cp.Start()
	}
}

// IsAllSceneCaptured reports whether no marker is left.
func (c *Coordinator) IsAllSceneCaptured() bool {
	return !c.captureAt || c.index >= len(c.markers)-1
}

func (c *Coordinator) onCapturingCompleted(*capturer.Capturer) {
	if c.State() == NotActive {
		return
	}
	for _, cp := range c.capturers {
		if cp.State() != capturer.NotActive && cp.State() != capturer.Completed {
			return
		}
	}

	for _, cp := range c.capturers {
		cp.Reset()
	}

	if c.IsAllSceneCaptured() {
		c.setState(Captured)
		c.log.Info("scene captured", "markers", len(c.markers))
		c.AllCaptured.Emit(c)
		if c.cfg.AutoExit && c.exit != nil {
			c.exit()
		}
		return
	}

	c.setState(Active)
	c.FocusNextMarker()
}

// ResetState makes a captured scene ready for another manual session.
func (c *Coordinator) ResetState() {
	if c.State() == Captured {
		c.setState(Ready)
	}
}

// SetPhase selects the extractor subset and refreshes segmentation.
func (c *Coordinator) SetPhase(p capturer.Phase) {
	c.phase = p
	if c.State() == Ready {
		c.UpdateSegmentation()
	}
}

// Phase returns the extractor phase.
func (c *Coordinator) Phase() capturer.Phase { return c.phase }

// SetTarget sets the object isolated by the secondary phase. A name that
// matches no object clears the target.
func (c *Coordinator) SetTarget(name string) *core.SceneObject {
	c.target = nil
	for _, obj := range c.scene.Objects() {
		if obj != nil && obj.Name == name {
			c.target = obj
			break
		}
	}
	if c.target == nil && name != "" {
		c.log.Warn("target object not found", "name", name)
	}
	if c.State() == Ready && c.phase == capturer.Secondary {
		c.UpdateSegmentation()
	}
	return c.target
}

// Target returns the isolated object, if any.
func (c *Coordinator) Target() *core.SceneObject { return c.target }

// SegmentationIDs returns the class and instance IDs of obj.
func (c *Coordinator) SegmentationIDs(obj *core.SceneObject) (uint8, uint32) {
	if c.phase == capturer.Secondary {
		return c.class.InstanceID(obj), c.targeted.InstanceID(obj)
	}
	return c.class.InstanceID(obj), c.instance.InstanceID(obj)
}

// Class returns the class segmentation.
func (c *Coordinator) Class() *segmentation.Class { return c.class }

// Instance returns the instance segmentation used in the primary phase.
func (c *Coordinator) Instance() *segmentation.Instance { return c.instance }

// TargetedInstance returns the instance segmentation of the secondary phase.
func (c *Coordinator) TargetedInstance() *segmentation.Instance { return c.targeted }

// Capturers returns the discovered capturers.
func (c *Coordinator) Capturers() []*capturer.Capturer { return c.capturers }

// Markers returns the markers being iterated.
func (c *Coordinator) Markers() []*core.Marker { return c.markers }

// MarkerIndex returns the index of the current marker.
func (c *Coordinator) MarkerIndex() int { return c.index }

// CurrentMarker returns the focused marker, or nil in a static scene.
func (c *Coordinator) CurrentMarker() *core.Marker { return c.current }

func (c *Coordinator) markerName() string {
	if c.current == nil {
		return ""
	}
	return c.current.Name
}

// Teardown unsubscribes from capturers and gives up the scene.
func (c *Coordinator) Teardown() {
	for cp, sub := range c.subs {
		cp.Completed.Unsubscribe(sub)
		cp.SetReadiness(nil)
	}
	clear(c.subs)
	c.capturers = nil
	if c.current != nil {
		c.current.RemoveAllObservers()
		c.current = nil
	}
	c.reg.Deregister(c.scene.Name(), c)
	c.SetupCompleted.Clear()
	c.AllCaptured.Clear()
	c.setState(NotActive)
}
