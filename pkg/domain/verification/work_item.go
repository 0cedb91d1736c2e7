package verification

import (
	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// Step is one ordered verification step of a work item.
type Step struct {
	ID          domain.StepID `json:"id"`
	Description string        `json:"description"`
	Expected    string        `json:"expected,omitempty"`
}

// WorkItem is a release-scoped story awaiting verification. At most one
// outstanding claim exists per item at any time; claim state is mutated only
// under the owning session's lock.
type WorkItem struct {
	StoryID     domain.StoryID `json:"story_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    int            `json:"priority"`
	Steps       []Step         `json:"steps"`

	// Seq is the item's creation order within the release snapshot and
	// breaks priority ties during selection.
	Seq int `json:"seq"`

	// Attempts is the highest attempt number handed out so far. It never
	// decreases, even when an attempt is abandoned.
	Attempts int `json:"attempts"`

	// ClaimedBy is the open attempt currently holding the item, if any.
	ClaimedBy domain.AttemptID `json:"claimed_by,omitempty"`

	// Closed marks the item as removed from the eligible pool (a PASS or
	// CANT_BE_TESTED submission).
	Closed bool `json:"closed"`

	// LastStatus is the terminal status of the most recent finalized
	// attempt. Empty until the first submission.
	LastStatus AttemptStatus `json:"last_status,omitempty"`
}

// Claimed reports whether the item currently has an outstanding claim.
func (w *WorkItem) Claimed() bool {
	return !w.ClaimedBy.IsZero()
}

// Eligible reports whether the item may be handed to a requesting tester.
func (w *WorkItem) Eligible() bool {
	return !w.Closed && !w.Claimed()
}

// Claim marks the item as held by the given attempt and advances the attempt
// counter. Callers must hold the session lock.
func (w *WorkItem) Claim(attemptID domain.AttemptID) (int, error) {
	if w.Closed {
		return 0, ErrItemClosed
	}
	if w.Claimed() {
		return 0, ErrAlreadyClaimed
	}
	w.ClaimedBy = attemptID
	w.Attempts++
	return w.Attempts, nil
}

// ReleaseClaim clears the claim without recording a result. The attempt
// counter is left as assigned so a later claim gets a higher number.
func (w *WorkItem) ReleaseClaim() {
	w.ClaimedBy = domain.AttemptID{}
}

// Finalize records the terminal status of the claiming attempt, clears the
// claim, and closes the item when the status warrants it.
func (w *WorkItem) Finalize(status AttemptStatus) {
	w.ClaimedBy = domain.AttemptID{}
	w.LastStatus = status
	if status.ClosesItem() {
		w.Closed = true
	}
}

// HasStep reports whether the given step belongs to the item's step set.
func (w *WorkItem) HasStep(stepID domain.StepID) bool {
	for _, s := range w.Steps {
		if s.ID.Equals(stepID) {
			return true
		}
	}
	return false
}
