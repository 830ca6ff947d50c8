// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pebbleworks/cf/lib/dialogue"
	"github.com/pebbleworks/cf/lib/pebble"
)

// Toolkit is what a running action talks through: progress and log
// diagnostics shaped for the active mode, and the dialogue exchanges
// when one is available.
type Toolkit struct {
	// Logger carries structured diagnostics that are not part of the
	// event stream (verbose tracing, timing).
	Logger *slog.Logger

	// emitter receives progress/log events in skill and agent mode.
	// nil in human mode.
	emitter dialogue.Emitter

	// human is the stderr sink for human-mode diagnostics. nil in
	// event modes.
	human io.Writer

	// machine handles ask/confirm. Always set; non-interactive
	// machines reject exchanges with NOT_INTERACTIVE.
	machine *dialogue.Machine

	interactive bool
}

// Progress reports step completion. Percent is clamped to 0..100.
func (t *Toolkit) Progress(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if t.human != nil {
		fmt.Fprintf(t.human, "[%3d%%] %s\n", percent, message)
		return
	}
	if err := t.emitter.Emit(pebble.TypeProgress, pebble.ProgressPayload{
		Percent: percent,
		Message: message,
	}); err != nil {
		t.Logger.Warn("dropping progress event", "error", err)
	}
}

// Log reports a diagnostic line at the given level (info, warn,
// error, debug).
func (t *Toolkit) Log(level, message string) {
	if t.human != nil {
		fmt.Fprintf(t.human, "[%s] %s\n", strings.ToUpper(level), message)
		return
	}
	if err := t.emitter.Emit(pebble.TypeLog, pebble.LogPayload{
		Level:   level,
		Message: message,
	}); err != nil {
		t.Logger.Warn("dropping log event", "error", err)
	}
}

// Infof is Log("info", ...) with formatting.
func (t *Toolkit) Infof(format string, args ...any) {
	t.Log("info", fmt.Sprintf(format, args...))
}

// Ask suspends the operation on a question until the consumer
// answers. Outside agent mode it fails with in/NOT_INTERACTIVE.
func (t *Toolkit) Ask(ctx context.Context, question string, options []string) (string, error) {
	return t.machine.Ask(ctx, question, options)
}

// Confirm suspends the operation on an approval gate. Denial is
// returned as false, not an error.
func (t *Toolkit) Confirm(ctx context.Context, action, risk, path string) (bool, error) {
	return t.machine.Confirm(ctx, action, risk, path)
}

// Guard protects a destructive step. In agent mode it runs a confirm
// exchange and converts denial into a [Cancelled] error so the step
// never executes; without an interactive channel the step proceeds,
// since the consumer chose a mode with no way to answer.
func (t *Toolkit) Guard(ctx context.Context, action, risk, path string) error {
	if !t.Interactive() {
		return nil
	}
	approved, err := t.Confirm(ctx, action, risk, path)
	if err != nil {
		return err
	}
	if !approved {
		return &Cancelled{Op: action, Reason: "declined by consumer"}
	}
	return nil
}

// Interactive reports whether ask/confirm exchanges can succeed.
func (t *Toolkit) Interactive() bool {
	return t.machine.State() != dialogue.Closed && t.interactive
}

type toolkitConfig struct {
	logger      *slog.Logger
	emitter     dialogue.Emitter
	human       io.Writer
	interactive bool
}

func newToolkit(config toolkitConfig) *Toolkit {
	machine := dialogue.New(dialogue.Config{
		Emitter:     config.emitter,
		Interactive: config.interactive,
	})
	return &Toolkit{
		Logger:      config.logger,
		emitter:     config.emitter,
		human:       config.human,
		machine:     machine,
		interactive: config.interactive,
	}
}
