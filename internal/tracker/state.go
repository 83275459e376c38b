package tracker

import "fmt"

// State is where the presence state machine stands
type State int

const (
	NotTracking State = iota
	OutsideAll
	InsideUnconfirmed // inside a hall's floor polygon, elevation not yet confirmed
	InsideConfirmed
)

func (s State) String() string {
	switch s {
	case NotTracking:
		return "not_tracking"
	case OutsideAll:
		return "outside_all"
	case InsideUnconfirmed:
		return "inside_unconfirmed"
	case InsideConfirmed:
		return "inside_confirmed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of the tracker for display
type Status struct {
	State State   `json:"state"`
	Hall  string  `json:"hall,omitempty"`
	Floor *string `json:"floor,omitempty"`
}

// MarshalText lets State serialise by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
