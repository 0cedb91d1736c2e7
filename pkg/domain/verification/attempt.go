package verification

import (
	"sort"
	"time"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// AttemptState is the lifecycle state of an execution attempt.
type AttemptState string

const (
	AttemptOpen      AttemptState = "open"
	AttemptSubmitted AttemptState = "submitted"
	AttemptAbandoned AttemptState = "abandoned"
)

// ValidEvents returns the lifecycle events accepted in this state.
func (s AttemptState) ValidEvents() []string {
	switch s {
	case AttemptOpen:
		return []string{EventSubmit, EventAbandon}
	default:
		return nil
	}
}

// CanTransitionWith reports whether the event is valid for this state.
func (s AttemptState) CanTransitionWith(event string) bool {
	for _, e := range s.ValidEvents() {
		if e == event {
			return true
		}
	}
	return false
}

// IsFinal reports whether the state is terminal.
func (s AttemptState) IsFinal() bool {
	return s == AttemptSubmitted || s == AttemptAbandoned
}

// StepResult is one recorded step outcome inside an open attempt. Repeated
// updates to the same step overwrite the previous record.
type StepResult struct {
	StepID  domain.StepID `json:"step_id"`
	Outcome StepOutcome   `json:"outcome"`
	Comment string        `json:"comment,omitempty"`
}

// Attempt is one tester's effort against a work item. It is owned
// exclusively by the assignment engine while open; ownership transfers to
// the submission pipeline at finalization.
type Attempt struct {
	ID          domain.AttemptID `json:"id"`
	StoryID     domain.StoryID   `json:"story_id"`
	ReleaseID   domain.ReleaseID `json:"release_id"`
	Number      int              `json:"number"`
	Tester      domain.TesterID  `json:"tester"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Status      AttemptStatus    `json:"status,omitempty"`
	Comment     string           `json:"comment,omitempty"`

	// Steps is the attempt's working record, keyed by step ID.
	Steps map[string]StepResult `json:"steps,omitempty"`

	fsm *AttemptStateMachine
}

// NewAttempt opens a fresh attempt against a work item for a tester. The
// attempt number is assigned when the item's claim succeeds.
func NewAttempt(item *WorkItem, release domain.ReleaseID, tester domain.TesterID) (*Attempt, error) {
	fsm, err := NewAttemptStateMachine(string(AttemptOpen))
	if err != nil {
		return nil, err
	}
	return &Attempt{
		ID:        domain.MintAttemptID(),
		StoryID:   item.StoryID,
		ReleaseID: release,
		Tester:    tester,
		StartedAt: time.Now(),
		Steps:     make(map[string]StepResult),
		fsm:       fsm,
	}, nil
}

// State returns the attempt's current lifecycle state.
func (a *Attempt) State() AttemptState {
	if a.fsm == nil {
		// Rehydrated attempts infer state from persisted fields.
		switch {
		case a.Status != "":
			return AttemptSubmitted
		default:
			return AttemptOpen
		}
	}
	return a.fsm.CurrentState()
}

// Open reports whether the attempt may still be mutated by its owner.
func (a *Attempt) Open() bool {
	return a.State() == AttemptOpen
}

// OwnedBy reports whether the given identity holds the attempt.
func (a *Attempt) OwnedBy(identity domain.TesterID) bool {
	return a.Tester.Equals(identity)
}

// RecordStep upserts a step outcome in the attempt's working record.
func (a *Attempt) RecordStep(stepID domain.StepID, outcome StepOutcome, comment string) error {
	if !a.Open() {
		return ErrAttemptClosed
	}
	if a.Steps == nil {
		a.Steps = make(map[string]StepResult)
	}
	a.Steps[stepID.String()] = StepResult{StepID: stepID, Outcome: outcome, Comment: comment}
	return nil
}

// Submit finalizes the attempt with a terminal status. The lifecycle machine
// rejects a second submission or a submission after abandonment.
func (a *Attempt) Submit(status AttemptStatus, comment string) error {
	if a.fsm == nil {
		return ErrAttemptClosed
	}
	if err := a.fsm.Transition(EventSubmit); err != nil {
		return err
	}
	a.Status = status
	a.Comment = comment
	a.CompletedAt = time.Now()
	return nil
}

// Abandon discards the attempt without a terminal status. Abandonment is a
// defined state transition, not an error path; it runs even when the owner
// cannot receive a response.
func (a *Attempt) Abandon() error {
	if a.fsm == nil {
		return ErrAttemptClosed
	}
	return a.fsm.Transition(EventAbandon)
}

// Reopen rolls a submitted attempt back to open. Used only by the submission
// pipeline when the persistence round-trip fails, so that no partial effect
// survives and the caller may retry.
func (a *Attempt) Reopen() error {
	fsm, err := NewAttemptStateMachine(string(AttemptOpen))
	if err != nil {
		return err
	}
	a.fsm = fsm
	a.Status = ""
	a.Comment = ""
	a.CompletedAt = time.Time{}
	return nil
}

// StepResults returns the recorded step results in step-ID order suitable
// for persistence.
func (a *Attempt) StepResults() []StepResult {
	out := make([]StepResult, 0, len(a.Steps))
	for _, k := range sortedKeys(a.Steps) {
		out = append(out, a.Steps[k])
	}
	return out
}

func sortedKeys(m map[string]StepResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
