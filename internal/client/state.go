package client

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// State is a phase of the reconnecting client.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
	StateFailed
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
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrIllegalTransition is returned for a transition missing from the table.
var ErrIllegalTransition = errors.New("client: illegal state transition")

// transitions lists the legal successor states. Closed and failed are terminal.
//
//nolint:gochecknoglobals // read-only transition table
var transitions = map[State][]State{
	StateConnecting:   {StateConnected, StateReconnecting, StateClosed, StateFailed},
	StateConnected:    {StateReconnecting, StateClosed},
	StateReconnecting: {StateConnecting, StateClosed},
	StateClosed:       nil,
	StateFailed:       nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// machine holds the current state. The reconnector's run loop is its only
// writer apart from Close, which may move any non-terminal state to closed.
type machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
