// Package storage provides persistence collaborators for the coordinator:
// an in-memory repository and a JSONL audit log of coordinator events.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// MemoryRepository is an in-memory implementation of the verification
// repository. It backs single-process deployments and tests; production
// deployments swap in a store over the platform's relational database.
type MemoryRepository struct {
	mu       sync.RWMutex
	items    map[string][]*verification.WorkItem // by release
	attempts map[string]*verification.Attempt    // by attempt ID
	defects  map[string]*verification.Defect     // by defect ID

	// FailNext forces the next write operation to fail, for exercising
	// rollback paths in tests.
	FailNext bool
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:    make(map[string][]*verification.WorkItem),
		attempts: make(map[string]*verification.Attempt),
		defects:  make(map[string]*verification.Defect),
	}
}

// SeedRelease installs a release's work-item snapshot.
func (r *MemoryRepository) SeedRelease(release domain.ReleaseID, items []*verification.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[release.String()] = items
}

// WorkItems returns the release's snapshot.
func (r *MemoryRepository) WorkItems(ctx context.Context, release domain.ReleaseID) ([]*verification.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, ok := r.items[release.String()]
	if !ok {
		return nil, fmt.Errorf("no work items for release %s", release)
	}
	return items, nil
}

// SaveAttempt persists a newly opened attempt.
func (r *MemoryRepository) SaveAttempt(ctx context.Context, attempt *verification.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailNext {
		r.FailNext = false
		return fmt.Errorf("injected save failure")
	}
	r.attempts[attempt.ID.String()] = attempt
	return nil
}

// Finalize commits the finalized attempt and the optional defect as one
// atomic unit. On failure neither is observed.
func (r *MemoryRepository) Finalize(ctx context.Context, attempt *verification.Attempt, defect *verification.Defect) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailNext {
		r.FailNext = false
		return fmt.Errorf("injected finalize failure")
	}

	r.attempts[attempt.ID.String()] = attempt
	if defect != nil {
		r.defects[defect.ID] = defect
	}
	return nil
}

// DiscardAttempt removes an abandoned attempt.
func (r *MemoryRepository) DiscardAttempt(ctx context.Context, id domain.AttemptID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.attempts, id.String())
	return nil
}

// Attempt returns a persisted attempt, or nil.
func (r *MemoryRepository) Attempt(id domain.AttemptID) *verification.Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempts[id.String()]
}

// DefectForAttempt returns the defect linked to an attempt, or nil.
func (r *MemoryRepository) DefectForAttempt(id domain.AttemptID) *verification.Defect {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.defects {
		if d.AttemptID.Equals(id) {
			return d
		}
	}
	return nil
}

// DefectCount returns the number of stored defect records.
func (r *MemoryRepository) DefectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defects)
}
