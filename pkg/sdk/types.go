package sdk

import "encoding/json"

// Message is one frame pushed by the coordinator.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types pushed by the coordinator.
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

// Step is one verification step of a work item.
type Step struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Expected    string `json:"expected,omitempty"`
}

// WorkItem is the full item description received on assignment.
type WorkItem struct {
	StoryID     string `json:"storyId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	Steps       []Step `json:"steps"`
}

// Assignment is the result of a successful work request.
type Assignment struct {
	AttemptID     string   `json:"attemptId"`
	AttemptNumber int      `json:"attemptNumber"`
	WorkItem      WorkItem `json:"workItem"`
}

// Summary is the shared dashboard aggregate.
type Summary struct {
	Total           int `json:"total"`
	Untested        int `json:"untested"`
	InProgress      int `json:"in_progress"`
	Passed          int `json:"passed"`
	Failed          int `json:"failed"`
	PartiallyTested int `json:"partially_tested"`
	CannotTest      int `json:"cannot_test"`
}

// Dashboard is the payload of a dashboard-update frame.
type Dashboard struct {
	Summary Summary `json:"summary"`
}

// StatusChange is the payload of a status-changed frame.
type StatusChange struct {
	WorkItemID string `json:"workItemId"`
	StepID     string `json:"stepId"`
	Status     string `json:"status"`
	Identity   string `json:"identity"`
}

// TesterLeft is the payload of a tester-left frame.
type TesterLeft struct {
	Identity           string `json:"identity"`
	UnlockedWorkItemID string `json:"unlockedWorkItemId,omitempty"`
}

// ResultSubmitted is the payload of a result-submitted frame.
type ResultSubmitted struct {
	AttemptID  string `json:"attemptId"`
	WorkItemID string `json:"workItemId"`
	Status     string `json:"status"`
}

// DefectReport carries defect details on a failing submission.
type DefectReport struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// envelope is the outbound command frame.
type envelope struct {
	Type      string        `json:"type"`
	ReleaseID string        `json:"releaseId,omitempty"`
	AttemptID string        `json:"attemptId,omitempty"`
	StepID    string        `json:"stepId,omitempty"`
	Status    string        `json:"status,omitempty"`
	Comment   string        `json:"comment,omitempty"`
	Defect    *DefectReport `json:"defect,omitempty"`
}
