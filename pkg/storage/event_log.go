package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
)

// EventLog is the coordinator's audit trail: a JSON Lines file of session
// events, hash-chained for tamper evidence.
type EventLog struct {
	mu       sync.RWMutex
	path     string
	basePath string
	lastHash string
}

// NewEventLog creates an event log under basePath. The directory is created
// on first write, not at construction time.
func NewEventLog(basePath string) (*EventLog, error) {
	log := &EventLog{
		path:     filepath.Join(basePath, "session-events.jsonl"),
		basePath: basePath,
	}

	// Load last hash for chaining (no error if file doesn't exist yet)
	if last, err := log.LastEvent(); err == nil && last != nil {
		log.lastHash = last.Hash
	}

	return log, nil
}

// Append adds a new event to the log. The chain metadata is written onto
// the event's embedded base; the full typed event is what lands on disk.
func (l *EventLog) Append(event events.DomainEvent) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	based, ok := event.(interface{ Base() *events.BaseEvent })
	if !ok {
		return fmt.Errorf("event %s does not expose a base", event.EventType())
	}
	base := based.Base()

	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}

	if err := os.MkdirAll(l.basePath, 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Chain to previous event
	base.PrevHash = l.lastHash
	base.Hash = base.CalculateHash()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close events file: %w", cerr)
		}
	}()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	l.lastHash = base.Hash
	return nil
}

// LoadAll returns all events in chronological order.
func (l *EventLog) LoadAll() ([]*events.BaseEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.loadEvents()
}

// LoadBySession returns events for a specific release session.
func (l *EventLog) LoadBySession(releaseID string) ([]*events.BaseEvent, error) {
	all, err := l.LoadAll()
	if err != nil {
		return nil, err
	}

	var result []*events.BaseEvent
	for _, e := range all {
		if e.AggregateType_ == events.AggregateTypeSession && e.AggregateID_ == releaseID {
			result = append(result, e)
		}
	}
	return result, nil
}

// LastEvent returns the most recent event.
func (l *EventLog) LastEvent() (*events.BaseEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	evts, err := l.loadEvents()
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return nil, nil
	}
	return evts[len(evts)-1], nil
}

// VerifyIntegrity checks the hash chain for tampering.
func (l *EventLog) VerifyIntegrity() ([]string, error) {
	evts, err := l.LoadAll()
	if err != nil {
		return nil, err
	}

	var violations []string
	lastHash := ""

	for i, e := range evts {
		if e.PrevHash != lastHash {
			violations = append(violations, fmt.Sprintf("Event %d (%s): PrevHash mismatch", i, e.ID))
		}
		if expected := e.CalculateHash(); e.Hash != expected {
			violations = append(violations, fmt.Sprintf("Event %d (%s): Hash mismatch - possible tampering", i, e.ID))
		}
		lastHash = e.Hash
	}

	return violations, nil
}

// loadEvents reads all events from the file.
func (l *EventLog) loadEvents() ([]*events.BaseEvent, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []*events.BaseEvent
	scanner := bufio.NewScanner(f)

	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event events.BaseEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		result = append(result, &event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	return result, nil
}
