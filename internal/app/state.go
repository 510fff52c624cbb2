package app

import "fmt"

// State is the lifecycle of one call session.
type State string

const (
	StateIdle        State = "idle"
	StateInitialized State = "initialized"
	StateCalling     State = "calling"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateFailed      State = "failed"
	StateEnded       State = "ended"
)

var transitions = map[State][]State{
	StateIdle:        {StateInitialized, StateEnded},
	StateInitialized: {StateCalling, StateConnecting, StateEnded},
	StateCalling:     {StateConnected, StateFailed, StateEnded},
	StateConnecting:  {StateConnected, StateFailed, StateEnded},
	StateConnected:   {StateFailed, StateEnded},
	StateFailed:      {StateEnded},
	StateEnded:       {},
}

// CanTransition reports whether from -> to is allowed. Staying put is not a transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns to, or an error naming the refused edge.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("transition %s -> %s not allowed", from, to)
	}
	return to, nil
}

// HoldsMedia is false for states in which no device may be open.
func (s State) HoldsMedia() bool {
	return s != StateIdle && s != StateEnded
}

func (s State) Terminal() bool { return s == StateEnded }
