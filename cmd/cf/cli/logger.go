// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger builds the diagnostic logger for a cf invocation. When
// stderr is a terminal it uses text output; when piped or redirected
// (scripts, agent harnesses, CI) it switches to JSON so the
// diagnostics stay machine-parseable without polluting the stdout
// protocol stream. Verbose lowers the level to debug.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
