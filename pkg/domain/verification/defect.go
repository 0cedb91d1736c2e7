package verification

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// DefectDetails is the caller-supplied content of a defect, carried on a
// failing submission. Nothing is created until the submission pipeline
// finalizes the attempt.
type DefectDetails struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// Defect is a defect record created by the submission pipeline, linked to
// the originating attempt and story. Creation and attempt finalization are a
// single atomic unit.
type Defect struct {
	ID          string           `json:"id"`
	StoryID     domain.StoryID   `json:"story_id"`
	AttemptID   domain.AttemptID `json:"attempt_id"`
	ReleaseID   domain.ReleaseID `json:"release_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Severity    string           `json:"severity,omitempty"`
	ReportedBy  domain.TesterID  `json:"reported_by"`
	Assignee    string           `json:"assignee,omitempty"` // defaults to unassigned
	CreatedAt   time.Time        `json:"created_at"`
}

// NewDefect builds a defect record from the submitting attempt and the
// caller-supplied details. Assignee is left unassigned.
func NewDefect(attempt *Attempt, details DefectDetails) *Defect {
	return &Defect{
		ID:          uuid.New().String(),
		StoryID:     attempt.StoryID,
		AttemptID:   attempt.ID,
		ReleaseID:   attempt.ReleaseID,
		Title:       details.Title,
		Description: details.Description,
		Severity:    details.Severity,
		ReportedBy:  attempt.Tester,
		CreatedAt:   time.Now(),
	}
}
