package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
)

func TestEventLogAppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	log, err := NewEventLog(dir)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}

	for _, et := range []string{events.EventTypeTesterJoined, events.EventTypeStoryAssigned, events.EventTypeResultSubmitted} {
		e := &events.BaseEvent{
			Type:           et,
			AggregateID_:   "rel-1",
			AggregateType_: events.AggregateTypeSession,
			Actor:          "alice",
		}
		if err := log.Append(e); err != nil {
			t.Fatalf("append %s: %v", et, err)
		}
		if e.ID == "" {
			t.Error("append must assign an event ID")
		}
		if e.Hash == "" {
			t.Error("append must assign a chain hash")
		}
	}

	all, err := log.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("loaded %d events, want 3", len(all))
	}
	if all[0].Type != events.EventTypeTesterJoined {
		t.Errorf("first event type = %s, want tester.joined", all[0].Type)
	}
}

func TestEventLogChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	log, err := NewEventLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(&events.BaseEvent{Type: events.EventTypeTesterJoined, AggregateID_: "rel-1", AggregateType_: events.AggregateTypeSession}); err != nil {
		t.Fatal(err)
	}

	// Reopen and append; the chain must continue from the stored hash.
	reopened, err := NewEventLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Append(&events.BaseEvent{Type: events.EventTypeTesterLeft, AggregateID_: "rel-1", AggregateType_: events.AggregateTypeSession}); err != nil {
		t.Fatal(err)
	}

	violations, err := reopened.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected chain violations: %v", violations)
	}
}

func TestEventLogDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	log, err := NewEventLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(&events.BaseEvent{Type: events.EventTypeDefectCreated, AggregateID_: "rel-1", AggregateType_: events.AggregateTypeSession, Actor: "alice"}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "session-events.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"actor":"alice"`, `"actor":"mallory"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	violations, err := log.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) == 0 {
		t.Error("expected integrity violation after tampering")
	}
}

func TestEventLogLoadBySession(t *testing.T) {
	dir := t.TempDir()
	log, err := NewEventLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{"rel-1", "rel-2", "rel-1"} {
		if err := log.Append(&events.BaseEvent{Type: events.EventTypeTesterJoined, AggregateID_: rel, AggregateType_: events.AggregateTypeSession}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := log.LoadBySession("rel-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("LoadBySession(rel-1) = %d events, want 2", len(got))
	}
}

func TestEventLogAppendTypedEvent(t *testing.T) {
	dir := t.TempDir()
	log, err := NewEventLog(dir)
	if err != nil {
		t.Fatal(err)
	}

	ev := &events.StoryAssigned{
		BaseEvent: events.BaseEvent{
			Type:           events.EventTypeStoryAssigned,
			AggregateID_:   "att-1",
			AggregateType_: events.AggregateTypeAttempt,
			Actor:          "alice",
		},
		ReleaseID:     "rel-1",
		StoryID:       "story-1",
		AttemptID:     "att-1",
		AttemptNumber: 1,
		Tester:        "alice",
	}
	if err := log.Append(ev); err != nil {
		t.Fatal(err)
	}

	// The typed payload lands on disk, not just the base fields.
	data, err := os.ReadFile(filepath.Join(dir, "session-events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "story-1") {
		t.Errorf("typed fields missing from stored event: %s", data)
	}

	violations, err := log.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected chain violations: %v", violations)
	}
}

func TestEventLogEmpty(t *testing.T) {
	log, err := NewEventLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	all, err := log.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("empty log returned %d events", len(all))
	}
}
