package state

import (
	"sync/atomic"
)

// State captures the state of a node: Idle, Draining, or Shutdown
type State uint32

const (
	// Idle is the state in which a node waits for a mailbox notification or a
	// request from the console.
	Idle State = iota

	// Draining is the state in which a node empties its mailbox, dispatching
	// every record, before re-arming the notification.
	Draining

	// Shutdown is the state in which the node's mailbox has been destroyed.
	// It is terminal.
	Shutdown
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Draining:
		return "Draining"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods.
type Manager struct {
	state State
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}
