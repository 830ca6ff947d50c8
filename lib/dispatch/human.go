// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Human executes one action for a person at a terminal: diagnostics
// on stderr, the result as indented JSON on stdout.
type Human struct {
	Stdout         io.Writer
	Stderr         io.Writer
	Logger         *slog.Logger
	DefaultTimeout time.Duration
}

// Run executes the invocation. Errors are printed with their
// category, code, and fix hints; the returned error carries only the
// mapped exit code.
func (h *Human) Run(ctx context.Context, inv Invocation) error {
	tk := newToolkit(toolkitConfig{logger: h.Logger, human: h.Stderr})

	result, err := execute(ctx, inv, tk, h.DefaultTimeout)
	if err != nil {
		var cancelled *Cancelled
		if errors.As(err, &cancelled) {
			fmt.Fprintf(h.Stderr, "Cancelled: %s\n", cancelled.Reason)
			return &ExitError{Code: 1}
		}
		record := classified(inv, err, newTraceID())
		fmt.Fprintf(h.Stderr, "Error [%s][%s]: %s\n", record.Cat, record.Code, record.Message)
		for _, hint := range record.Fix {
			fmt.Fprintf(h.Stderr, "  fix: %s\n", hint)
		}
		if record.Retryable && record.RetryAfterS > 0 {
			fmt.Fprintf(h.Stderr, "  retryable after %ds\n", record.RetryAfterS)
		}
		return &ExitError{Code: record.ExitCode()}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(h.Stderr, "Error [sys][INTERNAL]: encoding result: %v\n", err)
		return &ExitError{Code: 2}
	}
	fmt.Fprintln(h.Stdout, string(data))
	return nil
}
