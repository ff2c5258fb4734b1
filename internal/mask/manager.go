package mask

import (
	"context"
	"log/slog"

	"github.com/synthcap/scenecap/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config selects the naming and allocation policies of a manager.
type Config struct {
	Naming NamePolicy
	Policy Policy
	// Debug lists every mask name when the ID space overflows.
	Debug bool
}

// Manager owns the results of the latest scan for one mask channel.
// Results are rebuilt from scratch on every scan.
type Manager struct {
	cfg     Config
	space   uint32
	channel string
	log     *slog.Logger

	actors []*core.SceneObject
	assign *Assignment

	scans     metric.Int64Counter
	overflows metric.Int64Counter
}

func newManager(cfg Config, space uint32, channel string, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}
	m := Manager{
		cfg:     cfg,
		space:   space,
		channel: channel,
		log:     log.With("component", "mask", "channel", channel),
	}

	var err error
	m.scans, err = meter().Int64Counter("mask.scans",
		metric.WithDescription("Completed mask scans"))
	if err != nil {
		m.log.Warn("creating scan counter", "error", err)
		m.scans = noop.Int64Counter{}
	}
	m.overflows, err = meter().Int64Counter("mask.overflows",
		metric.WithDescription("Scans with more mask names than IDs"))
	if err != nil {
		m.log.Warn("creating overflow counter", "error", err)
		m.overflows = noop.Int64Counter{}
	}
	return m
}

func (m *Manager) reset() {
	m.actors = nil
	m.assign = nil
}

// collect rebuilds the eligible actor list and the ID assignment.
// It returns false when the scene is invalid.
func (m *Manager) collect(scene core.Scene) bool {
	m.reset()
	if scene == nil {
		m.log.Error("scan: invalid scene")
		return false
	}

	var names []string
	seen := make(map[string]struct{})
	for _, obj := range scene.Objects() {
		if !obj.Eligible() {
			continue
		}
		name := ResolveName(m.cfg.Naming, obj)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		m.actors = append(m.actors, obj)
	}

	m.assign = Allocate(names, m.space, m.cfg.Policy)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("channel", m.channel))
	m.scans.Add(ctx, 1, attrs)

	if truncated := m.assign.Truncated(); len(truncated) > 0 {
		m.overflows.Add(ctx, 1, attrs)
		m.log.Error("too many mask names, some objects stay unmasked",
			"max", m.space, "total", len(m.assign.Names()), "unmapped", len(truncated))
		if m.cfg.Debug {
			for _, name := range m.assign.Names() {
				m.log.Warn("mask name", "name", name)
			}
		}
	}
	return true
}

// MaskName resolves obj under the manager's naming policy.
func (m *Manager) MaskName(obj *core.SceneObject) string {
	if obj == nil {
		m.log.Error("mask name: invalid object")
		return ""
	}
	return ResolveName(m.cfg.Naming, obj)
}

// maskID returns the raw ID of obj from the latest scan.
func (m *Manager) maskID(obj *core.SceneObject) uint32 {
	return m.assign.Lookup(m.MaskName(obj))
}

// Names returns the sorted unique mask names of the latest scan.
func (m *Manager) Names() []string {
	return m.assign.Names()
}

// Actors returns the eligible objects of the latest scan.
func (m *Manager) Actors() []*core.SceneObject {
	return m.actors
}

// Assignment returns the latest name to ID mapping.
func (m *Manager) Assignment() map[string]uint32 {
	return m.assign.IDs()
}

// Config returns the manager's policies.
func (m *Manager) Config() Config {
	return m.cfg
}
