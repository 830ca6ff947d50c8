// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Manager applies session policy over a Store: id generation, resume
// resolution, idle-timeout closing, and the decision that resuming a
// closed session reopens it rather than failing (an agent that lost
// its process should not lose the conversation).
type Manager struct {
	store       Store
	idleTimeout time.Duration

	// now and newID are overridable for tests.
	now   func() time.Time
	newID func() string
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store is the persistence backend. Required.
	Store Store

	// IdleTimeout closes sessions whose LastActive is older than this
	// on load. Zero disables idle closing.
	IdleTimeout time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// NewID overrides session id generation. Defaults to UUIDs.
	NewID func() string
}

// NewManager builds a Manager.
func NewManager(config ManagerConfig) *Manager {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	newID := config.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Manager{
		store:       config.Store,
		idleTimeout: config.IdleTimeout,
		now:         now,
		newID:       newID,
	}
}

// Handle is a claimed, writable session. Exactly one process holds a
// handle for a given session at a time; everything that mutates the
// session goes through it.
type Handle struct {
	Session Session

	// Resumed reports whether this handle continues an existing
	// conversation rather than starting one.
	Resumed bool

	manager *Manager
	release func()
}

// Create starts a new session and claims it.
func (m *Manager) Create() (*Handle, error) {
	now := m.now().UTC()
	s := Session{
		ID:         m.newID(),
		CreatedAt:  now,
		LastActive: now,
		Status:     StatusActive,
	}
	s.TranscriptRef = s.ID + ".jsonl"

	release, err := m.store.Claim(s.ID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(s); err != nil {
		release()
		return nil, err
	}
	return &Handle{Session: s, manager: m, release: release}, nil
}

// Resume loads and claims an existing session. An empty id resolves
// through the latest pointer. Sessions idle past the timeout arrive
// closed; closed sessions are reopened. A missing id is an input
// error and creates nothing.
func (m *Manager) Resume(id string) (*Handle, error) {
	var s Session
	var err error
	if id == "" {
		s, err = m.store.LoadLatest()
	} else {
		s, err = m.store.Load(id)
	}
	if err != nil {
		return nil, err
	}

	release, err := m.store.Claim(s.ID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if m.idleTimeout > 0 && s.Status == StatusActive && now.Sub(s.LastActive) > m.idleTimeout {
		s.Status = StatusClosed
	}
	if s.Status == StatusClosed {
		s.Status = StatusActive
	}
	s.LastActive = now
	if err := m.store.Save(s); err != nil {
		release()
		return nil, err
	}
	return &Handle{Session: s, Resumed: true, manager: m, release: release}, nil
}

// Append records one event on the transcript and advances the
// activity timestamp.
func (h *Handle) Append(dir Direction, event pebble.Event) error {
	_, err := h.manager.store.Append(h.Session.ID, Entry{
		TS:    h.manager.now().UTC(),
		Dir:   dir,
		Event: event,
	})
	if err != nil {
		return err
	}
	h.Session.LastActive = h.manager.now().UTC()
	return h.manager.store.Save(h.Session)
}

// End closes the session and releases the claim. Safe to call after
// Release.
func (h *Handle) End() error {
	h.Session.Status = StatusClosed
	h.Session.LastActive = h.manager.now().UTC()
	err := h.manager.store.Save(h.Session)
	h.release()
	return err
}

// Release gives up the writer claim without closing the session, so a
// later invocation can resume it.
func (h *Handle) Release() {
	h.release()
}

// Export assembles the verified bundle for a session. Works for
// closed sessions too; export needs no claim.
func (m *Manager) Export(id, tool string) (*Bundle, error) {
	var s Session
	var err error
	if id == "" {
		s, err = m.store.LoadLatest()
	} else {
		s, err = m.store.Load(id)
	}
	if err != nil {
		return nil, err
	}
	entries, head, err := m.store.Transcript(s.ID)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Tool:       tool,
		ExportedAt: m.now().UTC(),
		Session:    s,
		Entries:    entries,
		ChainHead:  head,
	}, nil
}

// List returns all sessions, newest activity first.
func (m *Manager) List() ([]Session, error) {
	return m.store.List()
}

// Load returns one session record without claiming it.
func (m *Manager) Load(id string) (Session, error) {
	return m.store.Load(id)
}

// CloseByID closes a session without attaching a full handle,
// failing if another process holds it.
func (m *Manager) CloseByID(id string) (Session, error) {
	s, err := m.store.Load(id)
	if err != nil {
		return Session{}, err
	}
	release, err := m.store.Claim(id)
	if err != nil {
		return Session{}, err
	}
	defer release()

	if s.Status == StatusClosed {
		return s, nil
	}
	s.Status = StatusClosed
	s.LastActive = m.now().UTC()
	if err := m.store.Save(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// OpenStore builds the configured store backend under dir.
func OpenStore(backend, dir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(dir)
	default:
		return nil, pebble.Input("CONFIG_ERROR", fmt.Sprintf("unknown session store backend %q", backend))
	}
}
