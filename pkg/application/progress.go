package application

import (
	"context"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// RecordStep upserts a step outcome in the caller's open attempt and pushes
// a lightweight status-changed signal to the session — no dashboard
// recompute, no terminal state change. Resubmitting the same step overwrites
// the previous record.
func (c *Coordinator) RecordStep(ctx context.Context, attemptID domain.AttemptID, identity domain.TesterID, stepID domain.StepID, outcome verification.StepOutcome, comment string) error {
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

	item := s.pool.Get(attempt.StoryID)
	if item == nil || !item.HasStep(stepID) {
		storyID := attempt.StoryID
		s.mu.Unlock()
		return &verification.UnknownStepError{StoryID: storyID, StepID: stepID}
	}

	if err := attempt.RecordStep(stepID, outcome, comment); err != nil {
		s.mu.Unlock()
		return err
	}
	storyID := attempt.StoryID
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgStatusChanged, Payload: StatusChangedPayload{
		StoryID:  storyID.String(),
		StepID:   stepID.String(),
		Status:   string(outcome),
		Identity: identity.String(),
	}})

	c.emit(ctx, &events.StatusChanged{
		BaseEvent: c.base(events.EventTypeStatusChanged, storyID.String(), events.AggregateTypeStory, identity.String()),
		ReleaseID: s.release.String(),
		StoryID:   storyID.String(),
		StepID:    stepID.String(),
		Outcome:   string(outcome),
		Tester:    identity.String(),
	})

	c.logger.Debug("step recorded",
		"attempt", attemptID,
		"step", stepID,
		"outcome", outcome,
		"tester", identity)
	return nil
}
