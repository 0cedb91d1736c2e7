// Package events defines domain events emitted by the session coordinator.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// DomainEvent is the base interface for all coordinator events.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	AggregateType() string
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	AggregateID_   string                 `json:"aggregate_id"`
	AggregateType_ string                 `json:"aggregate_type"`
	Timestamp      time.Time              `json:"timestamp"`
	Actor          string                 `json:"actor,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	PrevHash       string                 `json:"prev_hash,omitempty"`
	Hash           string                 `json:"hash,omitempty"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) AggregateID() string   { return e.AggregateID_ }
func (e BaseEvent) AggregateType() string { return e.AggregateType_ }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// Base gives collaborators that stamp chain metadata access to the embedded
// base of any typed event.
func (e *BaseEvent) Base() *BaseEvent { return e }

// CalculateHash generates a deterministic SHA256 hash of the event, chained
// to the previous event's hash for audit-log integrity.
func (e *BaseEvent) CalculateHash() string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.AggregateID_))
	h.Write([]byte(e.Actor))
	h.Write([]byte(canonicalJSON(e.Metadata)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON produces a deterministic JSON representation.
func canonicalJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, _ := json.Marshal(m[k])
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')
	return string(ordered)
}

// =============================================================================
// Presence Events
// =============================================================================

// TesterJoined is emitted when a tester's connection joins a session.
type TesterJoined struct {
	BaseEvent
	ReleaseID string `json:"release_id"`
	Tester    string `json:"tester"`
}

// TesterLeft is emitted when a tester leaves a session. UnlockedStoryID is
// set when the leave abandoned an open attempt and returned its work item to
// the pool, so idle clients can re-request.
type TesterLeft struct {
	BaseEvent
	ReleaseID       string `json:"release_id"`
	Tester          string `json:"tester"`
	UnlockedStoryID string `json:"unlocked_story_id,omitempty"`
}

// =============================================================================
// Assignment Events
// =============================================================================

// StoryAssigned is emitted when a work item is claimed for a tester.
type StoryAssigned struct {
	BaseEvent
	ReleaseID     string `json:"release_id"`
	StoryID       string `json:"story_id"`
	AttemptID     string `json:"attempt_id"`
	AttemptNumber int    `json:"attempt_number"`
	Tester        string `json:"tester"`
}

// AttemptAbandoned is emitted when an open attempt is discarded without a
// terminal status (disconnect or liveness timeout).
type AttemptAbandoned struct {
	BaseEvent
	ReleaseID string `json:"release_id"`
	StoryID   string `json:"story_id"`
	AttemptID string `json:"attempt_id"`
	Reason    string `json:"reason"`
}

// =============================================================================
// Progress & Submission Events
// =============================================================================

// StatusChanged is emitted on step updates: a lightweight per-story signal
// that does not carry the full dashboard.
type StatusChanged struct {
	BaseEvent
	ReleaseID string `json:"release_id"`
	StoryID   string `json:"story_id"`
	StepID    string `json:"step_id"`
	Outcome   string `json:"outcome"`
	Tester    string `json:"tester"`
}

// ResultSubmitted is emitted when an attempt is finalized.
type ResultSubmitted struct {
	BaseEvent
	ReleaseID string                     `json:"release_id"`
	StoryID   string                     `json:"story_id"`
	AttemptID string                     `json:"attempt_id"`
	Status    verification.AttemptStatus `json:"status"`
}

// DefectCreated is emitted when the submission pipeline creates a defect
// record. The notification collaborator consumes this event.
type DefectCreated struct {
	BaseEvent
	ReleaseID string `json:"release_id"`
	StoryID   string `json:"story_id"`
	AttemptID string `json:"attempt_id"`
	DefectID  string `json:"defect_id"`
	Severity  string `json:"severity,omitempty"`
}

// StoryClosed is emitted when a submission removes a story from the eligible
// pool for the rest of the session.
type StoryClosed struct {
	BaseEvent
	ReleaseID string                     `json:"release_id"`
	StoryID   string                     `json:"story_id"`
	Status    verification.AttemptStatus `json:"status"`
}

// ReleaseClosed is emitted when a release is closed and all open attempts
// are force-abandoned.
type ReleaseClosed struct {
	BaseEvent
	ReleaseID         string `json:"release_id"`
	AbandonedAttempts int    `json:"abandoned_attempts"`
}

// =============================================================================
// Event Type Constants
// =============================================================================

const (
	EventTypeTesterJoined     = "tester.joined"
	EventTypeTesterLeft       = "tester.left"
	EventTypeStoryAssigned    = "story.assigned"
	EventTypeAttemptAbandoned = "attempt.abandoned"
	EventTypeStatusChanged    = "status.changed"
	EventTypeResultSubmitted  = "result.submitted"
	EventTypeDefectCreated    = "defect.created"
	EventTypeStoryClosed      = "story.closed"
	EventTypeReleaseClosed    = "release.closed"
)

// AggregateTypes
const (
	AggregateTypeSession = "session"
	AggregateTypeStory   = "story"
	AggregateTypeAttempt = "attempt"
	AggregateTypeDefect  = "defect"
)
