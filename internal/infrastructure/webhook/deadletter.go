package webhook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
)

// DeadLetterStore keeps deliveries that exhausted their retries, one JSON
// object per line, so an operator can inspect and replay them once the
// endpoint recovers.
type DeadLetterStore struct {
	mu   sync.Mutex
	path string
}

// NewDeadLetterStore writes dead letters to the file at path. The file is
// created on first append.
func NewDeadLetterStore(path string) *DeadLetterStore {
	return &DeadLetterStore{path: path}
}

// Append records one exhausted delivery.
func (s *DeadLetterStore) Append(dl events.DeadLetter) error {
	line, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

// ReadAll returns every recorded dead letter. A missing file means no
// delivery has failed yet. Lines that no longer parse are skipped rather
// than aborting the read.
func (s *DeadLetterStore) ReadAll() ([]events.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []events.DeadLetter
	sc := bufio.NewScanner(f)
	sc.Buffer(nil, 1<<20) // event payloads can exceed the default token limit
	for sc.Scan() {
		var dl events.DeadLetter
		if err := json.Unmarshal(sc.Bytes(), &dl); err != nil {
			continue
		}
		entries = append(entries, dl)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
