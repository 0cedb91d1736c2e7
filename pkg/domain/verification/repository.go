package verification

import (
	"context"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// Repository is the persistence collaborator consumed by the coordinator.
// Finalize must be atomic: the attempt's terminal state and the optional
// defect are committed together or not at all.
type Repository interface {
	// WorkItems loads the release's snapshot of verification items.
	WorkItems(ctx context.Context, release domain.ReleaseID) ([]*WorkItem, error)

	// SaveAttempt persists a newly opened attempt.
	SaveAttempt(ctx context.Context, attempt *Attempt) error

	// Finalize persists the attempt's step results, terminal status and
	// completion time, and creates the linked defect when non-nil.
	Finalize(ctx context.Context, attempt *Attempt, defect *Defect) error

	// DiscardAttempt removes an abandoned attempt. No terminal status is
	// recorded for it.
	DiscardAttempt(ctx context.Context, id domain.AttemptID) error
}
