// Package verification models release-scoped verification work: work items,
// execution attempts, step results, defects, and the dashboard aggregate.
package verification

import "fmt"

// AttemptStatus is the terminal status of a finalized execution attempt.
type AttemptStatus string

const (
	StatusPass            AttemptStatus = "PASS"
	StatusFail            AttemptStatus = "FAIL"
	StatusPartiallyTested AttemptStatus = "PARTIALLY_TESTED"
	StatusCantBeTested    AttemptStatus = "CANT_BE_TESTED"
)

// ParseAttemptStatus validates a terminal status received from a caller.
func ParseAttemptStatus(value string) (AttemptStatus, error) {
	switch s := AttemptStatus(value); s {
	case StatusPass, StatusFail, StatusPartiallyTested, StatusCantBeTested:
		return s, nil
	default:
		return "", fmt.Errorf("invalid attempt status: %q", value)
	}
}

// NeedsRework reports whether a story finalized with this status stays
// eligible for re-claim in the pool.
func (s AttemptStatus) NeedsRework() bool {
	return s == StatusFail || s == StatusPartiallyTested
}

// ClosesItem reports whether this status removes the work item from the
// eligible pool for the rest of the session.
func (s AttemptStatus) ClosesItem() bool {
	return s == StatusPass || s == StatusCantBeTested
}

// Failing reports whether this status may carry a linked defect.
func (s AttemptStatus) Failing() bool {
	return s == StatusFail
}

// StepOutcome is the recorded outcome of a single verification step.
type StepOutcome string

const (
	StepPass    StepOutcome = "PASS"
	StepFail    StepOutcome = "FAIL"
	StepSkipped StepOutcome = "SKIPPED"
)

// ParseStepOutcome validates a step outcome received from a caller.
func ParseStepOutcome(value string) (StepOutcome, error) {
	switch o := StepOutcome(value); o {
	case StepPass, StepFail, StepSkipped:
		return o, nil
	default:
		return "", fmt.Errorf("invalid step outcome: %q", value)
	}
}
