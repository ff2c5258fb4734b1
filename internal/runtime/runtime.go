// Package runtime owns the simulation tick: it advances the scheduler,
// ticks every capturer and publishes a session snapshot. Commands from
// other goroutines are queued and run at the start of the next tick.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"

	"github.com/synthcap/scenecap/internal/capturer"
	"github.com/synthcap/scenecap/internal/coordinator"
	"github.com/synthcap/scenecap/internal/queue"
	"github.com/synthcap/scenecap/internal/scheduler"
	"github.com/synthcap/scenecap/internal/session"
	"github.com/synthcap/scenecap/internal/util"
	"github.com/synthcap/scenecap/pkg/core"
)

// Dependencies holds the collaborators of a Runtime.
type Dependencies struct {
	Scene core.Scene
	// Game defaults to Scene when it implements core.GameClock.
	Game    core.GameClock
	Clock   clock.Clock
	Session *session.Context
	Logger  *slog.Logger
	// RetryDelay and WarnAfter are passed to every capturer.
	RetryDelay time.Duration
	WarnAfter  time.Duration
}

// Runtime drives one scene.
type Runtime struct {
	deps     Dependencies
	sched    *scheduler.Scheduler
	log      *slog.Logger
	commands *queue.Queue[func()]

	capturers []*capturer.Capturer
	coord     *coordinator.Coordinator
	exited    atomic.Bool

	ticks metric.Int64Counter
}

// New creates a runtime for deps.Scene.
func New(deps Dependencies) (*Runtime, error) {
	if deps.Scene == nil {
		return nil, errors.New("runtime requires a scene")
	}
	if deps.Game == nil {
		if g, ok := deps.Scene.(core.GameClock); ok {
			deps.Game = g
		}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Runtime{
		deps:     deps,
		sched:    scheduler.New(),
		log:      deps.Logger.With("component", "runtime"),
		commands: queue.New[func()](),
	}

	var err error
	r.ticks, err = meter().Int64Counter("runtime.ticks",
		metric.WithDescription("Simulation ticks processed"))
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	return r, nil
}

// Scheduler returns the simulation-time scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// Session returns the published snapshot holder.
func (r *Runtime) Session() *session.Context { return r.deps.Session }

// Coordinator returns the coordinator created by Begin, if any.
func (r *Runtime) Coordinator() *coordinator.Coordinator { return r.coord }

// Capturers returns the capturers created by NewCapturer.
func (r *Runtime) Capturers() []*capturer.Capturer { return r.capturers }

// Exited reports whether the coordinator requested an exit.
func (r *Runtime) Exited() bool { return r.exited.Load() }

// NewCapturer creates a capturer bound to this runtime's scheduler,
// clock and scene.
func (r *Runtime) NewCapturer(opts capturer.Options) (*capturer.Capturer, error) {
	c, err := capturer.New(opts, capturer.Dependencies{
		Scheduler:  r.sched,
		Clock:      r.deps.Clock,
		Game:       r.deps.Game,
		Scene:      r.deps.Scene,
		Logger:     r.deps.Logger,
		RetryDelay: r.deps.RetryDelay,
		WarnAfter:  r.deps.WarnAfter,
	})
	if err != nil {
		return nil, err
	}
	r.capturers = append(r.capturers, c)
	return c, nil
}

// Begin creates the scene coordinator and starts it on markers.
func (r *Runtime) Begin(cfg coordinator.Config, registry *coordinator.Registry, markers []*core.Marker) error {
	coord, err := coordinator.New(cfg, coordinator.Dependencies{
		Scene:    r.deps.Scene,
		Registry: registry,
		Logger:   r.deps.Logger,
		Exit: func() {
			r.log.Info("All markers captured, exiting")
			r.exited.Store(true)
		},
	})
	if err != nil {
		return err
	}
	r.coord = coord
	coord.BeginPlay(markers, r.capturers...)
	r.publish()
	return nil
}

// Post queues fn to run on the tick goroutine. Safe for concurrent use.
func (r *Runtime) Post(fn func()) {
	r.commands.Push(fn)
}

// Tick runs queued commands, advances simulation time by dt unless the
// game is paused, ticks every capturer and publishes a snapshot.
func (r *Runtime) Tick(dt time.Duration) {
	for _, fn := range r.commands.GetAndEmpty() {
		fn()
	}

	if r.deps.Game == nil || !r.deps.Game.Paused() {
		r.sched.Advance(dt)
	}

	for _, c := range r.capturers {
		c.Tick()
	}

	r.ticks.Add(context.Background(), 1)
	r.publish()
}

// Run ticks every interval of wall time until ctx is done or the
// coordinator requests an exit.
func (r *Runtime) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid tick interval %s", interval)
	}
	ticker := r.deps.Clock.Ticker(interval)
	defer ticker.Stop()

	r.log.Info("Runtime started", "tick", interval, "capturers", len(r.capturers))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick(interval)
			if r.Exited() {
				return nil
			}
		}
	}
}

// Close stops running sessions and releases the scene.
func (r *Runtime) Close() {
	for _, c := range r.capturers {
		c.Stop()
	}
	if r.coord != nil {
		r.coord.Teardown()
	}
	for _, c := range r.capturers {
		c.Close()
	}
	r.publish()
}

func (r *Runtime) publish() {
	snap := session.Snapshot{
		Scene:       r.deps.Scene.Name(),
		MarkerIndex: -1,
		UpdatedAt:   r.deps.Clock.Now(),
	}
	if r.coord != nil {
		snap.Coordinator = r.coord.State().String()
		snap.Phase = r.coord.Phase().String()
		snap.Markers = len(r.coord.Markers())
		if r.coord.CurrentMarker() != nil {
			snap.MarkerIndex = r.coord.MarkerIndex()
		}
	}
	snap.Capturers = make([]session.CapturerStatus, 0, len(r.capturers))
	for _, c := range r.capturers {
		st := session.CapturerStatus{
			Name:      c.Name(),
			SessionID: c.SessionID(),
			Stats:     c.Stats(),
		}
		if m := c.Marker(); m != nil {
			st.Marker = m.Name
		}
		snap.Capturers = append(snap.Capturers, st)
	}
	r.deps.Session.Set(snap)
}

// selected returns the capturers named in names, or all when names is empty.
func (r *Runtime) selected(names []string) []*capturer.Capturer {
	if len(names) == 0 {
		return r.capturers
	}
	var out []*capturer.Capturer
	for _, c := range r.capturers {
		if util.Contains(names, c.Name()) {
			out = append(out, c)
		}
	}
	return out
}

// StartCapture queues a start of the named capturers.
func (r *Runtime) StartCapture(names ...string) {
	r.Post(func() {
		for _, c := range r.selected(names) {
			c.Start()
		}
	})
}

// StopCapture queues a stop of the named capturers.
func (r *Runtime) StopCapture(names ...string) {
	r.Post(func() {
		for _, c := range r.selected(names) {
			c.Stop()
		}
	})
}

// PauseCapture queues a pause of the named capturers.
func (r *Runtime) PauseCapture(names ...string) {
	r.Post(func() {
		for _, c := range r.selected(names) {
			c.Pause()
		}
	})
}

// ResumeCapture queues a resume of the named capturers.
func (r *Runtime) ResumeCapture(names ...string) {
	r.Post(func() {
		for _, c := range r.selected(names) {
			c.Resume()
		}
	})
}

// SetPhase queues an extractor phase switch.
func (r *Runtime) SetPhase(p capturer.Phase) {
	r.Post(func() {
		if r.coord != nil {
			r.coord.SetPhase(p)
		}
	})
}

// SetTarget queues the selection of the targeted instance object.
func (r *Runtime) SetTarget(name string) {
	r.Post(func() {
		if r.coord != nil {
			r.coord.SetTarget(name)
		}
	})
}

// ResetScene queues a reset of a captured scene so it can run again.
func (r *Runtime) ResetScene() {
	r.Post(func() {
		if r.coord != nil {
			r.coord.ResetState()
		}
	})
}
