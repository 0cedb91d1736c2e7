// Package domain defines shared value objects for the testdeck coordinator.
package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// idPattern matches valid ID formats: alphanumeric with hyphens/underscores
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ReleaseID identifies a release under active testing. One release-testing
// session exists per release.
type ReleaseID struct {
	value string
}

// NewReleaseID creates a new ReleaseID from a string value.
// Returns an error if the value is invalid.
func NewReleaseID(value string) (ReleaseID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ReleaseID{}, fmt.Errorf("release ID cannot be empty")
	}
	if !idPattern.MatchString(value) {
		return ReleaseID{}, fmt.Errorf("invalid release ID format: %s", value)
	}
	return ReleaseID{value: value}, nil
}

// MustReleaseID creates a ReleaseID or panics if invalid. Use only in tests.
func MustReleaseID(value string) ReleaseID {
	id, err := NewReleaseID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation of the ReleaseID.
func (id ReleaseID) String() string {
	return id.value
}

// IsZero returns true if the ReleaseID is empty.
func (id ReleaseID) IsZero() bool {
	return id.value == ""
}

// Equals checks if two ReleaseIDs are equal.
func (id ReleaseID) Equals(other ReleaseID) bool {
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler interface.
func (id ReleaseID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (id *ReleaseID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = ReleaseID{}
		return nil
	}
	parsed, err := NewReleaseID(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// StoryID identifies a user story snapshotted into a release as a work item.
type StoryID struct {
	value string
}

// NewStoryID creates a new StoryID from a string value.
func NewStoryID(value string) (StoryID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return StoryID{}, fmt.Errorf("story ID cannot be empty")
	}
	if !idPattern.MatchString(value) {
		return StoryID{}, fmt.Errorf("invalid story ID format: %s", value)
	}
	return StoryID{value: value}, nil
}

// MustStoryID creates a StoryID or panics if invalid. Use only in tests.
func MustStoryID(value string) StoryID {
	id, err := NewStoryID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation of the StoryID.
func (id StoryID) String() string {
	return id.value
}

// IsZero returns true if the StoryID is empty.
func (id StoryID) IsZero() bool {
	return id.value == ""
}

// Equals checks if two StoryIDs are equal.
func (id StoryID) Equals(other StoryID) bool {
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler interface.
func (id StoryID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (id *StoryID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = StoryID{}
		return nil
	}
	parsed, err := NewStoryID(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TesterID is the verified identity of a connected tester. Identities are
// supplied by the auth collaborator at handshake time and trusted for the
// connection's lifetime.
type TesterID struct {
	value string
}

// NewTesterID creates a new TesterID from a string value.
func NewTesterID(value string) (TesterID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return TesterID{}, fmt.Errorf("tester ID cannot be empty")
	}
	if !idPattern.MatchString(value) {
		return TesterID{}, fmt.Errorf("invalid tester ID format: %s", value)
	}
	return TesterID{value: value}, nil
}

// MustTesterID creates a TesterID or panics if invalid. Use only in tests.
func MustTesterID(value string) TesterID {
	id, err := NewTesterID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation of the TesterID.
func (id TesterID) String() string {
	return id.value
}

// IsZero returns true if the TesterID is empty.
func (id TesterID) IsZero() bool {
	return id.value == ""
}

// Equals checks if two TesterIDs are equal.
func (id TesterID) Equals(other TesterID) bool {
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler interface.
func (id TesterID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (id *TesterID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = TesterID{}
		return nil
	}
	parsed, err := NewTesterID(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AttemptID identifies one execution attempt. Attempt IDs are minted by the
// coordinator, never supplied by callers.
type AttemptID struct {
	value string
}

// MintAttemptID creates a fresh unique AttemptID.
func MintAttemptID() AttemptID {
	return AttemptID{value: uuid.New().String()}
}

// NewAttemptID creates an AttemptID from an existing string value.
func NewAttemptID(value string) (AttemptID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return AttemptID{}, fmt.Errorf("attempt ID cannot be empty")
	}
	return AttemptID{value: value}, nil
}

// MustAttemptID creates an AttemptID or panics if invalid. Use only in tests.
func MustAttemptID(value string) AttemptID {
	id, err := NewAttemptID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation of the AttemptID.
func (id AttemptID) String() string {
	return id.value
}

// IsZero returns true if the AttemptID is empty.
func (id AttemptID) IsZero() bool {
	return id.value == ""
}

// Equals checks if two AttemptIDs are equal.
func (id AttemptID) Equals(other AttemptID) bool {
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler interface.
func (id AttemptID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (id *AttemptID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = AttemptID{}
		return nil
	}
	parsed, err := NewAttemptID(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// StepID identifies a verification step within a work item's step set.
type StepID struct {
	value string
}

// NewStepID creates a new StepID from a string value.
func NewStepID(value string) (StepID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return StepID{}, fmt.Errorf("step ID cannot be empty")
	}
	if !idPattern.MatchString(value) {
		return StepID{}, fmt.Errorf("invalid step ID format: %s", value)
	}
	return StepID{value: value}, nil
}

// MustStepID creates a StepID or panics if invalid. Use only in tests.
func MustStepID(value string) StepID {
	id, err := NewStepID(value)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation of the StepID.
func (id StepID) String() string {
	return id.value
}

// IsZero returns true if the StepID is empty.
func (id StepID) IsZero() bool {
	return id.value == ""
}

// Equals checks if two StepIDs are equal.
func (id StepID) Equals(other StepID) bool {
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler interface.
func (id StepID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (id *StepID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = StepID{}
		return nil
	}
	parsed, err := NewStepID(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
