// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"
)

// Status is the lifecycle position of a session.
type Status string

const (
	// StatusActive means the session accepts new exchanges.
	StatusActive Status = "active"
	// StatusClosed means the conversation ended. A closed session can
	// still be listed and exported; resuming it reopens it.
	StatusClosed Status = "closed"
)

// Session is the persisted conversation record. Identity is immutable
// after creation; LastActive moves on every processed event in or
// out.
type Session struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
	Status        Status    `json:"status"`
	TranscriptRef string    `json:"transcript_ref"`
}

// Direction tags a transcript entry as producer output or consumer
// input.
type Direction string

const (
	// DirOut is an event the tool emitted.
	DirOut Direction = "out"
	// DirIn is an event read from the input stream.
	DirIn Direction = "in"
)

// Store persists sessions and their transcripts. Implementations must
// make Save atomic with respect to concurrent readers, and Claim must
// enforce single-writer access per session.
type Store interface {
	// Create persists a new session record and points "latest" at it.
	Create(s Session) error

	// Load returns the session with the given id, or a
	// SESSION_NOT_FOUND input error.
	Load(id string) (Session, error)

	// LoadLatest resolves the "latest" pointer and loads that
	// session. SESSION_NOT_FOUND when no session has ever been saved.
	LoadLatest() (Session, error)

	// Save atomically replaces the session record and updates the
	// "latest" pointer.
	Save(s Session) error

	// List returns all sessions, newest activity first.
	List() ([]Session, error)

	// Claim takes the single-writer claim on a session. A second
	// claimant gets a SESSION_BUSY sys error. The returned release
	// function gives the claim up; it is safe to call more than once.
	Claim(id string) (release func(), err error)

	// Append adds one transcript entry, assigning its sequence number
	// and chain hash, and returns the new chain head.
	Append(id string, e Entry) (head string, err error)

	// Transcript returns all entries for a session with the chain
	// head, verifying the hash chain along the way.
	Transcript(id string) ([]Entry, string, error)

	// Close releases backend resources. It does not close sessions.
	Close() error
}
