package fsm

import (
	"fmt"
	"sync"
)

// State describes the high-level conversation phase for a client session.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateCompleted  State = "completed"
)

// Machine is a lightweight deterministic conversation phase machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a phase machine starting at idle.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnRecordStart moves the session into recording.
func (m *Machine) OnRecordStart() {
	m.transition(StateRecording)
}

// OnUtteranceSubmit marks the recorded clip sent and awaiting a reply.
func (m *Machine) OnUtteranceSubmit() {
	m.transition(StateProcessing)
}

// OnSpeakStart enters the speaking phase.
func (m *Machine) OnSpeakStart() {
	m.transition(StateSpeaking)
}

// OnSpeakStop returns to idle after playback finishes, unless the
// session already completed.
func (m *Machine) OnSpeakStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCompleted {
		return
	}
	m.state = StateIdle
}

// OnComplete latches the terminal phase.
func (m *Machine) OnComplete() {
	m.transition(StateCompleted)
}

// Force sets the phase unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateRecording, StateProcessing, StateSpeaking, StateCompleted:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
