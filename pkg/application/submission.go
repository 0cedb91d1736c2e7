package application

import (
	"context"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// Submit finalizes an open attempt as one atomic unit: terminal status and
// step results are persisted together with the optional defect record, the
// work item's claim is cleared, and the item either stays eligible for
// re-claim (FAIL, PARTIALLY_TESTED) or leaves the pool for good (PASS,
// CANT_BE_TESTED). A persistence failure rolls everything back to its
// pre-operation value; retrying is safe.
//
// A defect is created only when the final status is a failing outcome and
// defect details were supplied — never speculatively.
func (c *Coordinator) Submit(ctx context.Context, attemptID domain.AttemptID, identity domain.TesterID, status verification.AttemptStatus, comment string, details *verification.DefectDetails) error {
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
	if !attempt.OwnedBy(identity) {
		owner := attempt.Tester
		s.mu.Unlock()
		return &verification.NotOwnerError{AttemptID: attemptID, Owner: owner, Caller: identity}
	}

	if err := attempt.Submit(status, comment); err != nil {
		s.mu.Unlock()
		return err
	}

	var defect *verification.Defect
	if status.Failing() && details != nil {
		defect = verification.NewDefect(attempt, *details)
	}

	if err := c.repo.Finalize(ctx, attempt, defect); err != nil {
		// All-or-nothing: reopen the attempt and leave the claim exactly as
		// it was so the tester can retry the submission.
		if rbErr := attempt.Reopen(); rbErr != nil {
			c.logger.Error("rollback failed", "attempt", attemptID, "error", rbErr)
		}
		s.mu.Unlock()
		return &verification.PersistenceError{Op: "finalize attempt", Err: err}
	}

	item := s.pool.Get(attempt.StoryID)
	if item != nil {
		item.Finalize(status)
	}
	delete(s.open, identity.String())
	delete(s.byAttempt, attemptID.String())

	storyID := attempt.StoryID
	summary := verification.Summarize(s.pool)
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgResultSubmitted, Payload: ResultSubmittedPayload{
		AttemptID: attemptID.String(),
		StoryID:   storyID.String(),
		Status:    string(status),
	}})
	c.broadcast(s, Message{Type: MsgDashboardUpdate, Payload: DashboardPayload{Summary: summary}})

	c.emit(ctx, &events.ResultSubmitted{
		BaseEvent: c.base(events.EventTypeResultSubmitted, attemptID.String(), events.AggregateTypeAttempt, identity.String()),
		ReleaseID: s.release.String(),
		StoryID:   storyID.String(),
		AttemptID: attemptID.String(),
		Status:    status,
	})
	if defect != nil {
		c.emit(ctx, &events.DefectCreated{
			BaseEvent: c.base(events.EventTypeDefectCreated, defect.ID, events.AggregateTypeDefect, identity.String()),
			ReleaseID: s.release.String(),
			StoryID:   storyID.String(),
			AttemptID: attemptID.String(),
			DefectID:  defect.ID,
			Severity:  defect.Severity,
		})
	}
	if status.ClosesItem() {
		c.emit(ctx, &events.StoryClosed{
			BaseEvent: c.base(events.EventTypeStoryClosed, storyID.String(), events.AggregateTypeStory, identity.String()),
			ReleaseID: s.release.String(),
			StoryID:   storyID.String(),
			Status:    status,
		})
	}

	c.logger.Info("result submitted",
		"release", s.release,
		"story", storyID,
		"attempt", attemptID,
		"status", status,
		"defect", defect != nil)
	return nil
}
