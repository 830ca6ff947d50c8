// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pebbleworks/cf/lib/pebble"
)

// claimTTL is how long a SQLite claim may sit untouched before
// another process may take it over. Covers processes that died
// without releasing; a live process holds the claim far shorter than
// this between heartbeats (every Save refreshes it).
const claimTTL = 10 * time.Minute

// SQLiteStore keeps sessions in one SQLite database. Save and the
// latest pointer move in a single transaction, and claims live in a
// table with stale-claim takeover after a TTL (a file lock would not
// survive the database being on a network filesystem).
type SQLiteStore struct {
	db  *sql.DB
	pid int
	now func() time.Time
}

const sqliteSchema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	last_active    INTEGER NOT NULL,
	status         TEXT NOT NULL,
	transcript_ref TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS latest (
	k  INTEGER PRIMARY KEY CHECK (k = 1),
	id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	line       BLOB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS claims (
	session_id TEXT PRIMARY KEY,
	pid        INTEGER NOT NULL,
	claimed_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) sessions.db under dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("creating session directory %s: %v", dir, err))
	}
	path := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("opening %s: %v", path, err))
	}
	// One writer at a time keeps SQLITE_BUSY out of the append path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("initializing schema: %v", err))
	}
	return &SQLiteStore{db: db, pid: os.Getpid(), now: time.Now}, nil
}

func (st *SQLiteStore) Create(s Session) error {
	if err := checkID(s.ID); err != nil {
		return err
	}
	var exists int
	err := st.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, s.ID).Scan(&exists)
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("checking session %s: %v", s.ID, err))
	}
	if exists > 0 {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("session %s already exists", s.ID))
	}
	return st.Save(s)
}

func (st *SQLiteStore) Load(id string) (Session, error) {
	if err := checkID(id); err != nil {
		return Session{}, err
	}
	row := st.db.QueryRow(
		`SELECT id, created_at, last_active, status, transcript_ref FROM sessions WHERE id = ?`, id)
	return scanSession(row, id)
}

func (st *SQLiteStore) LoadLatest() (Session, error) {
	var id string
	err := st.db.QueryRow(`SELECT id FROM latest WHERE k = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, pebble.Input("SESSION_NOT_FOUND", "no sessions exist yet")
	}
	if err != nil {
		return Session{}, pebble.Sys("STORE_FAIL", fmt.Sprintf("reading latest pointer: %v", err))
	}
	return st.Load(id)
}

func scanSession(row *sql.Row, id string) (Session, error) {
	var s Session
	var created, active int64
	var status string
	err := row.Scan(&s.ID, &created, &active, &status, &s.TranscriptRef)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, pebble.Input("SESSION_NOT_FOUND", fmt.Sprintf("no session with id %s", id))
	}
	if err != nil {
		return Session{}, pebble.Sys("STORE_FAIL", fmt.Sprintf("scanning session %s: %v", id, err))
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.LastActive = time.Unix(0, active).UTC()
	s.Status = Status(status)
	return s, nil
}

// Save upserts the record and repoints latest in one transaction, and
// refreshes this process's claim timestamp if it holds one.
func (st *SQLiteStore) Save(s Session) error {
	if err := checkID(s.ID); err != nil {
		return err
	}
	tx, err := st.db.Begin()
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("beginning save: %v", err))
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, created_at, last_active, status, transcript_ref)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active = excluded.last_active,
			status = excluded.status,
			transcript_ref = excluded.transcript_ref`,
		s.ID, s.CreatedAt.UnixNano(), s.LastActive.UnixNano(), string(s.Status), s.TranscriptRef)
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("saving session %s: %v", s.ID, err))
	}

	_, err = tx.Exec(`
		INSERT INTO latest (k, id) VALUES (1, ?)
		ON CONFLICT(k) DO UPDATE SET id = excluded.id`, s.ID)
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("updating latest pointer: %v", err))
	}

	_, err = tx.Exec(`UPDATE claims SET claimed_at = ? WHERE session_id = ? AND pid = ?`,
		st.now().UnixNano(), s.ID, st.pid)
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("refreshing claim for %s: %v", s.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("committing save: %v", err))
	}
	return nil
}

func (st *SQLiteStore) List() ([]Session, error) {
	rows, err := st.db.Query(
		`SELECT id, created_at, last_active, status, transcript_ref
		 FROM sessions ORDER BY last_active DESC`)
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("listing sessions: %v", err))
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var created, active int64
		var status string
		if err := rows.Scan(&s.ID, &created, &active, &status, &s.TranscriptRef); err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("scanning session row: %v", err))
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		s.LastActive = time.Unix(0, active).UTC()
		s.Status = Status(status)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("listing sessions: %v", err))
	}
	return sessions, nil
}

// Claim inserts a claim row, taking over rows whose holder has gone
// stale (no Save heartbeat within the TTL).
func (st *SQLiteStore) Claim(id string) (func(), error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	tx, err := st.db.Begin()
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("beginning claim: %v", err))
	}
	defer tx.Rollback()

	now := st.now()
	var pid int
	var claimedAt int64
	err = tx.QueryRow(`SELECT pid, claimed_at FROM claims WHERE session_id = ?`, id).
		Scan(&pid, &claimedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Unclaimed.
	case err != nil:
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("checking claim for %s: %v", id, err))
	default:
		if pid != st.pid && now.Sub(time.Unix(0, claimedAt)) < claimTTL {
			return nil, pebble.Sys("SESSION_BUSY",
				fmt.Sprintf("session %s is held by pid %d", id, pid))
		}
	}

	_, err = tx.Exec(`
		INSERT INTO claims (session_id, pid, claimed_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET pid = excluded.pid, claimed_at = excluded.claimed_at`,
		id, st.pid, now.UnixNano())
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("claiming session %s: %v", id, err))
	}
	if err := tx.Commit(); err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("committing claim: %v", err))
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		st.db.Exec(`DELETE FROM claims WHERE session_id = ? AND pid = ?`, id, st.pid)
	}, nil
}

func (st *SQLiteStore) Append(id string, e Entry) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	tx, err := st.db.Begin()
	if err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("beginning append: %v", err))
	}
	defer tx.Rollback()

	head := GenesisHead
	seq := 0
	var lastLine []byte
	var lastSeq int
	err = tx.QueryRow(
		`SELECT seq, line FROM transcript WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, id).
		Scan(&lastSeq, &lastLine)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Empty transcript.
	case err != nil:
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("reading transcript tail for %s: %v", id, err))
	default:
		head = hashLine(lastLine)
		seq = lastSeq + 1
	}

	e.Seq = seq
	e.Prev = head
	line, err := encodeEntry(e)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(
		`INSERT INTO transcript (session_id, seq, line) VALUES (?, ?, ?)`, id, seq, line); err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("appending transcript for %s: %v", id, err))
	}
	if err := tx.Commit(); err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("committing append: %v", err))
	}
	return hashLine(line), nil
}

func (st *SQLiteStore) Transcript(id string) ([]Entry, string, error) {
	if err := checkID(id); err != nil {
		return nil, "", err
	}
	rows, err := st.db.Query(
		`SELECT line FROM transcript WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, "", pebble.Sys("STORE_FAIL", fmt.Sprintf("reading transcript for %s: %v", id, err))
	}
	defer rows.Close()

	var lines [][]byte
	for rows.Next() {
		var line []byte
		if err := rows.Scan(&line); err != nil {
			return nil, "", pebble.Sys("STORE_FAIL", fmt.Sprintf("scanning transcript row: %v", err))
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, "", pebble.Sys("STORE_FAIL", fmt.Sprintf("reading transcript for %s: %v", id, err))
	}
	return verifyChain(lines)
}

func (st *SQLiteStore) Close() error {
	return st.db.Close()
}
