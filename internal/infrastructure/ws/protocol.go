// Package ws provides the WebSocket transport for the session coordinator:
// connection upgrade, the inbound command protocol and outbound message
// delivery.
package ws

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Inbound command types sent by tester clients.
const (
	CmdJoinSession  = "join-session"
	CmdLeaveSession = "leave-session"
	CmdRequestWork  = "request-work"
	CmdUpdateStep   = "update-step"
	CmdSubmitResult = "submit-result"
	CmdHeartbeat    = "heartbeat"
)

// Envelope is the inbound command envelope. Fields beyond Type are
// command-specific; the schema enforces which are required per command.
type Envelope struct {
	Type      string      `json:"type"`
	ReleaseID string      `json:"releaseId,omitempty"`
	AttemptID string      `json:"attemptId,omitempty"`
	StepID    string      `json:"stepId,omitempty"`
	Status    string      `json:"status,omitempty"`
	Comment   string      `json:"comment,omitempty"`
	Defect    *DefectBody `json:"defect,omitempty"`
}

// DefectBody carries optional defect details on a failing submission.
type DefectBody struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

const envelopeSchemaJSON = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {
			"enum": ["join-session", "leave-session", "request-work", "update-step", "submit-result", "heartbeat"]
		},
		"releaseId": {"type": "string", "minLength": 1},
		"attemptId": {"type": "string", "minLength": 1},
		"stepId": {"type": "string", "minLength": 1},
		"status": {"type": "string", "minLength": 1},
		"comment": {"type": "string"},
		"defect": {
			"type": "object",
			"required": ["title"],
			"properties": {
				"title": {"type": "string", "minLength": 1},
				"description": {"type": "string"},
				"severity": {"type": "string"}
			}
		}
	},
	"allOf": [
		{"if": {"properties": {"type": {"const": "join-session"}}}, "then": {"required": ["releaseId"]}},
		{"if": {"properties": {"type": {"const": "request-work"}}}, "then": {"required": ["releaseId"]}},
		{"if": {"properties": {"type": {"const": "update-step"}}}, "then": {"required": ["attemptId", "stepId", "status"]}},
		{"if": {"properties": {"type": {"const": "submit-result"}}}, "then": {"required": ["attemptId", "status"]}}
	]
}`

var envelopeSchemaLoader = gojsonschema.NewStringLoader(envelopeSchemaJSON)

// ValidateEnvelope checks a raw inbound frame against the command schema
// before it is decoded.
func ValidateEnvelope(raw []byte) error {
	result, err := gojsonschema.Validate(envelopeSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate message: %w", err)
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}
		return fmt.Errorf("invalid message: %s", strings.Join(descs, "; "))
	}
	return nil
}
