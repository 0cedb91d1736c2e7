package application

import (
	"context"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// Assignment is the result of a successful work request: the new attempt and
// the item's full detail.
type Assignment struct {
	AttemptID     domain.AttemptID
	AttemptNumber int
	WorkItem      WorkItemDetail
}

// RequestWork claims exactly one eligible work item for the requesting
// tester and opens a new execution attempt against it. A nil Assignment with
// a nil error means the pool is empty — a defined outcome, not an error.
//
// Claim-and-create is a single atomic unit under the session lock: two
// simultaneous requests can never both claim the same item.
func (c *Coordinator) RequestWork(ctx context.Context, release domain.ReleaseID, identity domain.TesterID) (*Assignment, error) {
	c.mu.RLock()
	s, ok := c.sessions[release.String()]
	c.mu.RUnlock()
	if !ok {
		return nil, verification.ErrSessionNotFound
	}

	s.mu.Lock()

	if _, joined := s.conns[identity.String()]; !joined {
		s.mu.Unlock()
		return nil, verification.ErrNotJoined
	}
	if _, open := s.open[identity.String()]; open {
		s.mu.Unlock()
		return nil, verification.ErrAttemptAlreadyOpen
	}

	item := s.pool.Next()
	if item == nil {
		s.mu.Unlock()
		c.logger.Debug("pool empty", "release", release, "tester", identity)
		return nil, nil
	}

	attempt, err := verification.NewAttempt(item, release, identity)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	prevAttempts := item.Attempts
	number, err := item.Claim(attempt.ID)
	if err != nil {
		// Next() only returns eligible items; a claim failure here means a
		// bug in the session lock discipline.
		s.mu.Unlock()
		return nil, err
	}
	attempt.Number = number

	if err := c.repo.SaveAttempt(ctx, attempt); err != nil {
		// Roll claim state back to its pre-operation value: no partial
		// effect survives a persistence failure.
		item.ReleaseClaim()
		item.Attempts = prevAttempts
		s.mu.Unlock()
		return nil, &verification.PersistenceError{Op: "save attempt", Err: err}
	}

	s.open[identity.String()] = attempt
	s.byAttempt[attempt.ID.String()] = attempt
	detail := detailOf(item)
	summary := verification.Summarize(s.pool)
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgDashboardUpdate, Payload: DashboardPayload{Summary: summary}})

	c.emit(ctx, &events.StoryAssigned{
		BaseEvent:     c.base(events.EventTypeStoryAssigned, attempt.ID.String(), events.AggregateTypeAttempt, identity.String()),
		ReleaseID:     release.String(),
		StoryID:       item.StoryID.String(),
		AttemptID:     attempt.ID.String(),
		AttemptNumber: number,
		Tester:        identity.String(),
	})

	c.logger.Info("story assigned",
		"release", release,
		"story", item.StoryID,
		"attempt", attempt.ID,
		"number", number,
		"tester", identity)

	return &Assignment{
		AttemptID:     attempt.ID,
		AttemptNumber: number,
		WorkItem:      detail,
	}, nil
}

// Release abandons an open attempt without persisting a terminal status and
// returns its work item to the eligible pool, claim cleared. A later request
// may reclaim the item with a fresh, strictly higher attempt number.
func (c *Coordinator) Release(ctx context.Context, attemptID domain.AttemptID, reason string) error {
	s, ok := c.sessionForAttempt(attemptID)
	if !ok {
		return verification.ErrAttemptNotFound
	}

	s.mu.Lock()
	attempt, ok := s.byAttempt[attemptID.String()]
	if !ok {
		s.mu.Unlock()
		return verification.ErrAttemptNotFound
	}
	c.abandonLocked(ctx, s, attempt, reason)
	summary := verification.Summarize(s.pool)
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgDashboardUpdate, Payload: DashboardPayload{Summary: summary}})
	return nil
}
