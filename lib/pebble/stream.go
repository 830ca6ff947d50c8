// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package pebble

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineBytes caps a single event line. Oversized lines indicate a
// producer that is streaming bulk data through the event channel
// instead of referencing it, and are rejected as protocol violations.
const maxLineBytes = 1024 * 1024

// StreamWriter serializes events onto the machine stream, one line
// per event. It is safe for concurrent use: an event line is never
// interleaved with another.
type StreamWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStreamWriter returns a writer targeting w, normally os.Stdout.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{out: w}
}

// Write appends one event line. Serialization failures surface as
// internal errors before any partial line reaches the stream.
func (w *StreamWriter) Write(event Event) error {
	line, err := Encode(event)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(line, '\n')); err != nil {
		return Sys("INTERNAL", fmt.Sprintf("writing event stream: %v", err))
	}
	return nil
}

// Emit builds an event from a typed payload and writes it.
func (w *StreamWriter) Emit(eventType Type, payload any) error {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return w.Write(event)
}

// LineReader decodes events from an input stream, one line at a time.
// Blank lines are skipped. The scanner buffer starts at 64 KiB and
// grows to the 1 MiB line cap.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader returns a reader over r, normally os.Stdin.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &LineReader{scanner: scanner}
}

// Next returns the next event on the stream. It returns io.EOF when
// the stream ends and a category-in protocol error for undecodable
// or oversized lines.
func (r *LineReader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, Input("PARSE_FAIL", fmt.Sprintf("event line exceeds %d bytes", maxLineBytes))
		}
		return Event{}, Sys("INTERNAL", fmt.Sprintf("reading event stream: %v", err))
	}
	return Event{}, io.EOF
}

// trimSpace trims ASCII whitespace without allocating. Input lines
// come from interactive pipes, so stray spaces and carriage returns
// are common.
func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
