// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/pebbleworks/cf/lib/pebble"
)

// validID guards against path traversal through user-supplied session
// ids. Generated ids are UUIDs, which always match.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore keeps sessions under one directory: <id>.json for the
// record, <id>.jsonl for the transcript, <id>.lock for the
// single-writer flock, and a "latest" pointer file. Records are
// written via temp file and rename so a concurrent reader never sees
// a partial document.
type FileStore struct {
	dir string

	mu    sync.Mutex
	tails map[string]*chainTail
	locks map[string]*os.File
}

// chainTail caches the recovered end of a transcript chain so Append
// does not rescan the file on every event.
type chainTail struct {
	head string
	seq  int
}

// NewFileStore opens (creating if needed) a file-backed store rooted
// at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("creating session directory %s: %v", dir, err))
	}
	return &FileStore{
		dir:   dir,
		tails: make(map[string]*chainTail),
		locks: make(map[string]*os.File),
	}, nil
}

func (fs *FileStore) recordPath(id string) string     { return filepath.Join(fs.dir, id+".json") }
func (fs *FileStore) transcriptPath(id string) string { return filepath.Join(fs.dir, id+".jsonl") }
func (fs *FileStore) lockPath(id string) string       { return filepath.Join(fs.dir, id+".lock") }
func (fs *FileStore) latestPath() string              { return filepath.Join(fs.dir, "latest") }

func checkID(id string) error {
	if !validID.MatchString(id) {
		return pebble.Input("SESSION_NOT_FOUND", fmt.Sprintf("invalid session id %q", id))
	}
	return nil
}

// Create persists a new session record. An existing record with the
// same id is an internal error: ids are generated, never reused.
func (fs *FileStore) Create(s Session) error {
	if err := checkID(s.ID); err != nil {
		return err
	}
	if _, err := os.Stat(fs.recordPath(s.ID)); err == nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("session %s already exists", s.ID))
	}
	return fs.Save(s)
}

// Load reads one session record.
func (fs *FileStore) Load(id string) (Session, error) {
	if err := checkID(id); err != nil {
		return Session{}, err
	}
	raw, err := os.ReadFile(fs.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, pebble.Input("SESSION_NOT_FOUND", fmt.Sprintf("no session with id %s", id))
		}
		return Session{}, pebble.Sys("STORE_FAIL", fmt.Sprintf("reading session %s: %v", id, err))
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, pebble.Sys("STORE_FAIL", fmt.Sprintf("decoding session %s: %v", id, err))
	}
	return s, nil
}

// LoadLatest resolves the latest pointer.
func (fs *FileStore) LoadLatest() (Session, error) {
	raw, err := os.ReadFile(fs.latestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, pebble.Input("SESSION_NOT_FOUND", "no sessions exist yet")
		}
		return Session{}, pebble.Sys("STORE_FAIL", fmt.Sprintf("reading latest pointer: %v", err))
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return Session{}, pebble.Input("SESSION_NOT_FOUND", "no sessions exist yet")
	}
	return fs.Load(id)
}

// Save atomically replaces the record and repoints latest.
func (fs *FileStore) Save(s Session) error {
	if err := checkID(s.ID); err != nil {
		return err
	}
	content, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("encoding session %s: %v", s.ID, err))
	}
	if err := fs.writeAtomic(fs.recordPath(s.ID), append(content, '\n')); err != nil {
		return err
	}
	return fs.writeAtomic(fs.latestPath(), []byte(s.ID+"\n"))
}

// writeAtomic writes content to a sibling temp file, syncs it, and
// renames it over path.
func (fs *FileStore) writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(fs.dir, ".session-*.tmp")
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("creating temp file: %v", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("writing %s: %v", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("syncing %s: %v", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("closing %s: %v", tmpName, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("replacing %s: %v", path, err))
	}
	return nil
}

// List returns every session record, most recent activity first.
func (fs *FileStore) List() ([]Session, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("reading session directory: %v", err))
	}
	var sessions []Session
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		s, err := fs.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
	return sessions, nil
}

// Claim takes the single-writer flock for a session. The lock is
// advisory and non-blocking: a second process gets SESSION_BUSY
// immediately instead of silently interleaving transcript writes.
func (fs *FileStore) Claim(id string) (func(), error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(fs.lockPath(id), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("opening lock for session %s: %v", id, err))
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, pebble.Sys("SESSION_BUSY",
				fmt.Sprintf("session %s is held by another process", id))
		}
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("locking session %s: %v", id, err))
	}

	fs.mu.Lock()
	fs.locks[id] = lockFile
	fs.mu.Unlock()

	// The lock file stays on disk after release. Unlinking it would
	// open a window where a process holding the old open descriptor
	// flocks an orphaned inode while a third process locks a freshly
	// created file at the same path, and both believe they hold the
	// claim.
	var once sync.Once
	return func() {
		once.Do(func() {
			fs.mu.Lock()
			delete(fs.locks, id)
			delete(fs.tails, id)
			fs.mu.Unlock()
			unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
			lockFile.Close()
		})
	}, nil
}

// Append writes one chained transcript entry and syncs it so the line
// survives a crash.
func (fs *FileStore) Append(id string, e Entry) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tail, err := fs.tailLocked(id)
	if err != nil {
		return "", err
	}
	e.Seq = tail.seq
	e.Prev = tail.head

	line, err := encodeEntry(e)
	if err != nil {
		return "", err
	}

	file, err := os.OpenFile(fs.transcriptPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("opening transcript for %s: %v", id, err))
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("appending transcript for %s: %v", id, err))
	}
	if err := file.Sync(); err != nil {
		return "", pebble.Sys("STORE_FAIL", fmt.Sprintf("syncing transcript for %s: %v", id, err))
	}

	tail.head = hashLine(line)
	tail.seq++
	return tail.head, nil
}

// tailLocked recovers the chain tail for a session, scanning the
// transcript once and caching the result. Callers hold fs.mu.
func (fs *FileStore) tailLocked(id string) (*chainTail, error) {
	if tail, ok := fs.tails[id]; ok {
		return tail, nil
	}
	lines, err := fs.readLines(id)
	if err != nil {
		return nil, err
	}
	tail := &chainTail{head: GenesisHead}
	if len(lines) > 0 {
		tail.head = hashLine(lines[len(lines)-1])
		tail.seq = len(lines)
	}
	fs.tails[id] = tail
	return tail, nil
}

// Transcript reads and verifies the whole chain.
func (fs *FileStore) Transcript(id string) ([]Entry, string, error) {
	if err := checkID(id); err != nil {
		return nil, "", err
	}
	lines, err := fs.readLines(id)
	if err != nil {
		return nil, "", err
	}
	return verifyChain(lines)
}

func (fs *FileStore) readLines(id string) ([][]byte, error) {
	file, err := os.Open(fs.transcriptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("opening transcript for %s: %v", id, err))
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var lines [][]byte
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("scanning transcript for %s: %v", id, err))
	}
	return lines, nil
}

// Close releases any claims still held.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, lockFile := range fs.locks {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		delete(fs.locks, id)
	}
	return nil
}
