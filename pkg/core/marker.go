// pkg/core/marker.go
package core

// MarkerObserver is notified when a marker it is attached to is focused.
type MarkerObserver interface {
	ObserveMarker(m *Marker)
}

// Marker is a point of interest the coordinator iterates over.
type Marker struct {
	Name     string     `json:"name"`
	Location Position3D `json:"location"`

	observers []MarkerObserver
}

// AddObserver attaches o and moves it to the marker immediately.
func (m *Marker) AddObserver(o MarkerObserver) {
	if o == nil {
		return
	}
	for _, existing := range m.observers {
		if existing == o {
			return
		}
	}
	m.observers = append(m.observers, o)
	o.ObserveMarker(m)
}

// RemoveAllObservers detaches every observer.
func (m *Marker) RemoveAllObservers() {
	m.observers = nil
}

// Observers returns the attached observers in attach order.
func (m *Marker) Observers() []MarkerObserver {
	return m.observers
}
