// Package session holds a thread-safe snapshot of the capture runtime for
// readers outside the tick goroutine.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/synthcap/scenecap/internal/capturer"
)

// CapturerStatus is the published state of one capturer.
type CapturerStatus struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId,omitempty"`
	Marker    string `json:"marker,omitempty"`
	capturer.Stats
}

// Snapshot is the runtime state at one tick.
type Snapshot struct {
	Scene       string           `json:"scene"`
	Coordinator string           `json:"coordinator"`
	Phase       string           `json:"phase"`
	MarkerIndex int              `json:"markerIndex"`
	Markers     int              `json:"markers"`
	Capturers   []CapturerStatus `json:"capturers"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Running reports whether any capturer is mid-session.
func (s Snapshot) Running() bool {
	for _, c := range s.Capturers {
		if c.State == capturer.Running || c.State == capturer.Paused {
			return true
		}
	}
	return false
}

// Context holds the latest snapshot.
type Context struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewContext creates a Context with default values.
func NewContext() *Context {
	return &Context{snap: Snapshot{Scene: "No scene loaded", MarkerIndex: -1}}
}

// Get returns a copy of the current snapshot.
func (c *Context) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.snap
	out.Capturers = append([]CapturerStatus(nil), c.snap.Capturers...)
	return out
}

// Set replaces the current snapshot.
func (c *Context) Set(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = s
}

// LogAttrs returns the attributes injected into every log record.
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs := []slog.Attr{slog.String("scene", c.snap.Scene)}
	if c.snap.MarkerIndex >= 0 {
		attrs = append(attrs, slog.Int("marker", c.snap.MarkerIndex))
	}
	return attrs
}
