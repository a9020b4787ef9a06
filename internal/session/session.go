// Package session implements the participant lifecycle shared by platforms
// and the umpire:
//
//	Disconnected -> Connected -> Registered -> KeyExchanged -> Running -> ShuttingDown -> Disconnected
//
// The umpire skips registration and key exchange and may run as soon as it
// is connected.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition reports a transition the lifecycle does not allow
// from the current state.
var ErrInvalidTransition = errors.New("invalid session transition")

// State is a lifecycle state.
type State int

const (
	Disconnected State = iota
	Connected
	Registered
	KeyExchanged
	Running
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Registered:
		return "registered"
	case KeyExchanged:
		return "key_exchanged"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role selects which transitions gate Running.
type Role int

const (
	RolePlatform Role = iota
	RoleUmpire
)

func (r Role) String() string {
	if r == RoleUmpire {
		return "umpire"
	}
	return "platform"
}

// TransitionFunc observes a completed transition.
type TransitionFunc func(from, to State)

// Machine tracks one participant's lifecycle state. It is safe for
// concurrent reads; transitions are expected from the owning loop only.
type Machine struct {
	role Role

	mu      sync.RWMutex
	state   State
	observe []TransitionFunc
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(role Role) *Machine {
	return &Machine{role: role, state: Disconnected}
}

// Role returns the participant role.
func (m *Machine) Role() Role { return m.role }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnTransition registers an observer called after each transition.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe = append(m.observe, fn)
}

// Connect records a successful bus connection.
func (m *Machine) Connect() error { return m.transition(Connected, Disconnected) }

// Register records that identity and public key were published.
func (m *Machine) Register() error {
	if m.role == RoleUmpire {
		return fmt.Errorf("%w: umpire does not register", ErrInvalidTransition)
	}
	return m.transition(Registered, Connected)
}

// KeysExchanged records a successful shared-key derivation.
func (m *Machine) KeysExchanged() error {
	if m.role == RoleUmpire {
		return fmt.Errorf("%w: umpire does not exchange keys as a session", ErrInvalidTransition)
	}
	return m.transition(KeyExchanged, Registered)
}

// Run enters the tick loop. Platforms must have exchanged keys; the umpire
// only needs a connection.
func (m *Machine) Run() error {
	if m.role == RoleUmpire {
		return m.transition(Running, Connected)
	}
	return m.transition(Running, KeyExchanged)
}

// Shutdown records receipt of the shutdown broadcast. It is accepted from
// any connected state so a participant can leave before reaching Running;
// repeated calls are no-ops.
func (m *Machine) Shutdown() error {
	if m.State() == ShuttingDown {
		return nil
	}
	return m.transition(ShuttingDown, Connected, Registered, KeyExchanged, Running)
}

// Disconnect records release of the bus connection.
func (m *Machine) Disconnect() error { return m.transition(Disconnected, ShuttingDown) }

func (m *Machine) transition(to State, from ...State) error {
	m.mu.Lock()
	cur := m.state
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.role, cur, to)
	}
	m.state = to
	observers := append([]TransitionFunc(nil), m.observe...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(cur, to)
	}
	return nil
}
