package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State is a lifecycle state shared by nodes, connections and transports.
type State int

const (
	Idle State = iota
	Starting
	Working
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Starting:
		return "STARTING"
	case Working:
		return "WORKING"
	case Stopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives a transition.
type Event int

const (
	EventStart Event = iota
	EventStarted
	EventStop
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "willStart"
	case EventStarted:
		return "started"
	case EventStop:
		return "willStop"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrIllegalTransition is wrapped by every rejected transition.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

var transitions = map[State]map[Event]State{
	Idle:     {EventStart: Starting},
	Starting: {EventStarted: Working, EventStopped: Idle},
	Working:  {EventStop: Stopping},
	Stopping: {EventStopped: Idle},
}

// Observer is notified after each successful transition.
type Observer func(event Event, state State)

// Machine is a mutex-guarded lifecycle state machine.
type Machine struct {
	mu        sync.Mutex
	name      string
	state     State
	nextID    int
	observers map[int]Observer
	order     []int
}

// New returns a Machine in the Idle state; name shows up in errors.
func New(name string) *Machine {
	return &Machine{
		name:      name,
		state:     Idle,
		observers: map[int]Observer{},
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Is(state State) bool {
	return m.State() == state
}

// Transition applies event and returns the new state, or an error wrapping
// ErrIllegalTransition when event is not allowed in the current state.
func (m *Machine) Transition(event Event) (State, error) {
	m.mu.Lock()
	next, ok := transitions[m.state][event]
	if !ok {
		current := m.state
		m.mu.Unlock()
		return current, fmt.Errorf("%w: %s cannot %s while %s", ErrIllegalTransition, m.name, event, current)
	}

	m.state = next
	observers := make([]Observer, 0, len(m.order))
	for _, id := range m.order {
		observers = append(observers, m.observers[id])
	}
	m.mu.Unlock()

	for _, observer := range observers {
		observer(event, next)
	}

	return next, nil
}

// Subscribe registers o and returns a func that removes it.
func (m *Machine) Subscribe(o Observer) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.observers[id] = o
	m.order = append(m.order, id)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.observers[id]; !ok {
			return
		}
		delete(m.observers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}
