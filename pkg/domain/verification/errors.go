package verification

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// Sentinel errors for caller faults. These are reported to the offending
// connection and never terminate the connection or the session.
var (
	ErrNotJoined          = errors.New("identity is not joined to the session")
	ErrAttemptAlreadyOpen = errors.New("identity already holds an open attempt in this session")
	ErrAttemptNotFound    = errors.New("attempt not found or no longer open")
	ErrAttemptClosed      = errors.New("attempt has already been finalized")
	ErrAlreadyClaimed     = errors.New("work item is already claimed")
	ErrItemClosed         = errors.New("work item is closed for this session")
	ErrSessionNotFound    = errors.New("no active session for release")
)

// NotOwnerError is returned when an identity other than the assigned tester
// touches an open attempt.
type NotOwnerError struct {
	AttemptID domain.AttemptID
	Owner     domain.TesterID
	Caller    domain.TesterID
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("attempt %s is owned by %s, not %s", e.AttemptID, e.Owner, e.Caller)
}

// UnknownStepError is returned when a step update names a step outside the
// work item's step set.
type UnknownStepError struct {
	StoryID domain.StoryID
	StepID  domain.StepID
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("story %s has no step %s", e.StoryID, e.StepID)
}

// PersistenceError wraps a failed persistence round-trip. The coordinator
// rolls claim and attempt state back to their pre-operation values before
// surfacing it, so a retry is always safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
