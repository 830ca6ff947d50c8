// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Skill executes one action for a non-interactive machine consumer:
// NDJSON events on stdout, no input stream, process exit after the
// first error with the mapped code.
type Skill struct {
	Stream         *pebble.StreamWriter
	Logger         *slog.Logger
	DefaultTimeout time.Duration
}

// Run executes the invocation, emitting exactly one result event on
// success or one error event followed by exit.
func (s *Skill) Run(ctx context.Context, inv Invocation) error {
	tk := newToolkit(toolkitConfig{logger: s.Logger, emitter: s.Stream})

	result, err := execute(ctx, inv, tk, s.DefaultTimeout)
	if err != nil {
		var cancelled *Cancelled
		if errors.As(err, &cancelled) {
			if emitErr := s.Stream.Emit(pebble.TypeCancelled, pebble.CancelledPayload{
				Op:     cancelled.Op,
				Reason: cancelled.Reason,
			}); emitErr != nil {
				s.Logger.Error("emitting cancelled event", "error", emitErr)
			}
			return &ExitError{Code: 1}
		}
		record := classified(inv, err, newTraceID())
		if emitErr := s.Stream.Emit(pebble.TypeError, record); emitErr != nil {
			s.Logger.Error("emitting error event", "error", emitErr)
		}
		return &ExitError{Code: record.ExitCode()}
	}

	if err := s.Stream.Emit(pebble.TypeResult, result); err != nil {
		return &ExitError{Code: pebble.Classify(err).ExitCode()}
	}
	return nil
}
