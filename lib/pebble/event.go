// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package pebble implements the wire protocol shared by every pebble
// tool: the versioned event envelope carried as JSON Lines on the
// machine stream, the structured error record with its category to
// exit-code mapping, and the manifest document describing a tool's
// actions, capabilities, and permissions.
//
// The machine stream discipline is strict: stdout carries complete,
// independently parseable event lines and nothing else; human logs,
// progress bars, and debug traces belong on stderr. Producers write
// through [StreamWriter], consumers read through [LineReader].
package pebble

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the envelope version this build produces. Decoding
// accepts any version up to and including this one; payload fields
// unknown to this build pass through untouched, so minor additions
// within the same version never break older consumers.
const SchemaVersion = 1

// Type identifies an event on the machine stream. The vocabulary is
// open: consumers must tolerate types they do not recognize and route
// them to a default branch rather than failing.
type Type string

// Producer to consumer event types (stdout).
const (
	TypeProgress  Type = "progress"
	TypeLog       Type = "log"
	TypeResult    Type = "result"
	TypeError     Type = "error"
	TypeAsk       Type = "ask"
	TypeReady     Type = "ready"
	TypeBye       Type = "bye"
	TypeConfirm   Type = "confirm"
	TypeCancelled Type = "cancelled"
)

// Consumer to producer event types (read from the input stream in
// agent mode).
const (
	TypeAnswer          Type = "answer"
	TypeConfirmResponse Type = "confirm_response"
)

// Event is one line of the machine stream. The payload stays raw so
// that fields unknown to this build survive a decode/encode round
// trip byte for byte.
type Event struct {
	V       int             `json:"v"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent builds an event at the current schema version. A payload
// that cannot be serialized is an internal defect, reported before
// anything reaches the stream.
func NewEvent(eventType Type, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, Sys("INTERNAL", fmt.Sprintf("unserializable %s payload: %v", eventType, err))
	}
	return Event{V: SchemaVersion, Type: eventType, Payload: raw}, nil
}

// Encode serializes an event as a single line with no trailing
// newline. HTML escaping is off: the stream carries shell commands
// and URLs, and consumers read JSON, not markup. encoding/json
// compacts the raw payload, so the result never contains an embedded
// line break.
func Encode(event Event) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(event); err != nil {
		return nil, Sys("INTERNAL", fmt.Sprintf("encoding %s event: %v", event.Type, err))
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses one line of the machine stream. Lines that are not
// JSON, lack the v or type fields, or claim a version newer than this
// build understands are protocol violations (category in). Unknown
// event types and unknown payload fields are not errors.
func Decode(line []byte) (Event, error) {
	var probe struct {
		V       *int            `json:"v"`
		Type    Type            `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Event{}, Input("PARSE_FAIL", fmt.Sprintf("malformed event line: %v", err))
	}
	if probe.V == nil {
		return Event{}, Input("PARSE_FAIL", "event line missing version field")
	}
	if probe.Type == "" {
		return Event{}, Input("PARSE_FAIL", "event line missing type field")
	}
	if *probe.V < 1 {
		return Event{}, Input("PARSE_FAIL", fmt.Sprintf("invalid schema version %d", *probe.V))
	}
	if *probe.V > SchemaVersion {
		return Event{}, Input("UNSUPPORTED_VERSION",
			fmt.Sprintf("event schema version %d is newer than supported version %d", *probe.V, SchemaVersion))
	}
	return Event{V: *probe.V, Type: probe.Type, Payload: probe.Payload}, nil
}

// DecodePayload unmarshals the event payload into v. Unknown fields
// in the payload are ignored.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Input("PARSE_FAIL", fmt.Sprintf("decoding %s payload: %v", e.Type, err))
	}
	return nil
}

// ProgressPayload reports operation progress.
type ProgressPayload struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// LogPayload carries a diagnostic line routed through the machine
// stream in agent output modes.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AskPayload requests a free-form or multiple-choice answer from the
// consumer. ID ties the eventual answer back to this question.
type AskPayload struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// AnswerPayload is the consumer's reply to an ask.
type AnswerPayload struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ConfirmPayload requests approval before a risky step. Path names
// the resource the step would touch, when there is one.
type ConfirmPayload struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Risk   string `json:"risk"`
	Path   string `json:"path,omitempty"`
}

// ConfirmResponsePayload is the consumer's verdict on a confirm.
type ConfirmResponsePayload struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// ReadyPayload announces an attached session at the start of an
// agent-mode invocation.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
	Tool      string `json:"tool"`
	Version   string `json:"version"`
}

// ByePayload announces the end of a conversation: the session is
// closed and accepts no further exchanges.
type ByePayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// CancelledPayload reports that an exchange or operation was
// abandoned without completing.
type CancelledPayload struct {
	ID     string `json:"id,omitempty"`
	Op     string `json:"op,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Risk levels carried in confirm events. The set is open; consumers
// treat unrecognized values as at least RiskHigh.
const (
	RiskLow  = "low"
	RiskHigh = "high"
)
