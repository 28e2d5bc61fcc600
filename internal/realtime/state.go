package realtime

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle position of an observer connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid observer state transition")

var allowedTransitions = map[State][]State{
	StateConnecting:   {StateConnected, StateClosed},
	StateConnected:    {StateReconnecting, StateClosed},
	StateReconnecting: {StateConnected, StateClosed},
}

// StateMachine tracks Connecting -> Connected -> {Reconnecting -> Connected}* -> Closed.
// Closed is terminal.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewStateMachine starts in StateConnecting. onChange may be nil.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{state: StateConnecting, onChange: onChange}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next, or fails without changing state.
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state = next
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(from, next)
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
