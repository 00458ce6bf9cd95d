package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pigeonchat/pigeon/internal/bus"
)

// State is the conversation-slot state.
type State string

const (
	// Idle: no contact selected.
	Idle State = "IDLE"
	// Loading: a history fetch for the selected contact is in flight.
	// A failed fetch stays here until the next selection.
	Loading State = "LOADING"
	// Synced: history is seeded and live events keep the view current.
	Synced State = "SYNCED"
)

// validTransitions defines allowed slot transitions. Loading -> Loading
// covers re-selecting while a fetch is still outstanding.
var validTransitions = map[State][]State{
	Idle:    {Loading},
	Loading: {Loading, Synced, Idle},
	Synced:  {Loading, Idle},
}

// Machine tracks and enforces conversation-slot state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:    bus.KindStatusChanged,
			Payload: StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
