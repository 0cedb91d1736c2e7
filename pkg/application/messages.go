// Package application implements the session coordinator: connection
// registry, assignment engine, step progress tracking, submission pipeline,
// and presence/dashboard broadcasting.
package application

import (
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// Outbound message types pushed to connected testers.
const (
	MsgStoryAssigned   = "story-assigned"
	MsgPoolEmpty       = "pool-empty"
	MsgDashboardUpdate = "dashboard-update"
	MsgStatusChanged   = "status-changed"
	MsgTesterJoined    = "tester-joined"
	MsgTesterLeft      = "tester-left"
	MsgResultSubmitted = "result-submitted"
	MsgError           = "error"
)

// Message is the transport-agnostic outbound envelope. The wire layer
// serializes it; delivery is best-effort per connection.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WorkItemDetail is the full item description handed to a tester on
// assignment: title, description and the ordered step list.
type WorkItemDetail struct {
	StoryID     string              `json:"storyId"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Priority    int                 `json:"priority"`
	Steps       []verification.Step `json:"steps"`
}

// StoryAssignedPayload carries a fresh assignment to the requesting tester.
type StoryAssignedPayload struct {
	AttemptID     string         `json:"attemptId"`
	AttemptNumber int            `json:"attemptNumber"`
	WorkItem      WorkItemDetail `json:"workItem"`
}

// DashboardPayload carries the full dashboard summary.
type DashboardPayload struct {
	Summary verification.Summary `json:"summary"`
}

// StatusChangedPayload is the lightweight per-story progress signal sent on
// step updates, without a dashboard recompute.
type StatusChangedPayload struct {
	StoryID  string `json:"workItemId"`
	StepID   string `json:"stepId"`
	Status   string `json:"status"`
	Identity string `json:"identity"`
}

// TesterJoinedPayload announces a new session participant.
type TesterJoinedPayload struct {
	Identity string `json:"identity"`
}

// TesterLeftPayload announces a departure. UnlockedWorkItemID is set when
// the departure abandoned an open attempt, so idle clients can re-request.
type TesterLeftPayload struct {
	Identity           string `json:"identity"`
	UnlockedWorkItemID string `json:"unlockedWorkItemId,omitempty"`
}

// ResultSubmittedPayload announces a finalized attempt.
type ResultSubmittedPayload struct {
	AttemptID string `json:"attemptId"`
	StoryID   string `json:"workItemId"`
	Status    string `json:"status"`
}

// ErrorPayload carries a caller fault to the offending connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

func detailOf(item *verification.WorkItem) WorkItemDetail {
	steps := make([]verification.Step, len(item.Steps))
	copy(steps, item.Steps)
	return WorkItemDetail{
		StoryID:     item.StoryID.String(),
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		Steps:       steps,
	}
}
