package tracking

import "fmt"

// State is the lifecycle of a Tracker.
type State int

const (
	Idle State = iota
	Tracking
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session is running or paused.
func (s State) Active() bool {
	return s == Tracking || s == Paused
}
