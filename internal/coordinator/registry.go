package coordinator

import "sync"

// Registry designates one leading coordinator per scene. Registration is
// first come, first served.
type Registry struct {
	mu      sync.Mutex
	leaders map[string]*Coordinator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{leaders: make(map[string]*Coordinator)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register records c as the leader of scene unless one exists. It reports
// whether c leads.
func (r *Registry) Register(scene string, c *Coordinator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.leaders[scene]; ok {
		return current == c
	}
	r.leaders[scene] = c
	return true
}

// Deregister removes c if it leads scene.
func (r *Registry) Deregister(scene string, c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaders[scene] == c {
		delete(r.leaders, scene)
	}
}

// Leader returns the leading coordinator of scene, or nil.
func (r *Registry) Leader(scene string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaders[scene]
}

// SceneReady reports whether capturers in scene may start. Scenes without
// a coordinator are always ready.
func (r *Registry) SceneReady(scene string) bool {
	leader := r.Leader(scene)
	return leader == nil || leader.State() == Ready
}
