package verification

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// State constants for statekit integration.
// These must remain as untyped string constants for statekit.StateID
// compatibility. Values are kept in sync with the AttemptState constants in
// attempt.go.
const (
	StateOpen      = "open"
	StateSubmitted = "submitted"
	StateAbandoned = "abandoned"
)

// Lifecycle events accepted by the attempt state machine.
const (
	EventSubmit  = "submit"
	EventAbandon = "abandon"
)

// init validates at startup that FSM state constants match AttemptState values.
func init() {
	stateMap := map[string]AttemptState{
		StateOpen:      AttemptOpen,
		StateSubmitted: AttemptSubmitted,
		StateAbandoned: AttemptAbandoned,
	}

	for fsmState, attemptState := range stateMap {
		if fsmState != string(attemptState) {
			panic(fmt.Sprintf("FSM state %q does not match AttemptState %q - constants are out of sync", fsmState, attemptState))
		}
	}
}

// AttemptContext carries state data.
type AttemptContext struct {
	AttemptID string
}

// AttemptStateMachine defines the valid lifecycle transitions of an attempt:
// an open attempt is either submitted (terminal result) or abandoned
// (disconnect/timeout); both are final.
type AttemptStateMachine struct {
	interpreter *statekit.Interpreter[AttemptContext]
}

func NewAttemptStateMachine(initialState string) (*AttemptStateMachine, error) {
	builder := statekit.NewMachine[AttemptContext]("attempt-machine").
		WithInitial(statekit.StateID(initialState)).
		WithContext(AttemptContext{})

	builder.State(StateOpen).
		On(EventSubmit).Target(StateSubmitted).
		On(EventAbandon).Target(StateAbandoned).
		Done()

	builder.State(StateSubmitted).
		Done()

	builder.State(StateAbandoned).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &AttemptStateMachine{interpreter: interpreter}, nil
}

// Transition attempts to move the attempt to a new lifecycle state.
func (sm *AttemptStateMachine) Transition(event string) error {
	before := sm.Current()
	sm.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := sm.Current()

	if before != after {
		return nil
	}

	// In statekit, if no transition matches the state stays the same.
	return fmt.Errorf("the action '%s' is not allowed while the attempt is in the '%s' state", event, before)
}

func (sm *AttemptStateMachine) Current() string {
	return string(sm.interpreter.State().Value)
}

// CurrentState returns the current state as an AttemptState value object.
func (sm *AttemptStateMachine) CurrentState() AttemptState {
	return AttemptState(sm.Current())
}

// CanTransition checks if the given event is valid for the current state.
func (sm *AttemptStateMachine) CanTransition(event string) bool {
	return sm.CurrentState().CanTransitionWith(event)
}

// IsFinal returns true if the current state is a final state.
func (sm *AttemptStateMachine) IsFinal() bool {
	return sm.CurrentState().IsFinal()
}
