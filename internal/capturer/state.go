package capturer

// State is the lifecycle state of a Capturer.
type State uint8

const (
	NotActive State = iota
	Active
	Running
	Paused
	Completed
)

func (s State) String() string {
	switch s {
	case NotActive:
		return "not_active"
	case Active:
		return "active"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in status files and JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
