// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pebbleworks/cf/lib/pebble"
)

// execute runs one action under its timeout. A nil result with a nil
// error is a broken action contract and surfaces as sys/INTERNAL.
func execute(ctx context.Context, inv Invocation, tk *Toolkit, defaultTimeout time.Duration) (any, error) {
	if err := ValidateRequired(inv.Params); err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if inv.Action.Timeout > 0 {
		timeout = inv.Action.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := inv.Action.Run(ctx, tk, inv.Params, inv.Args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, pebble.Sys("INTERNAL",
			fmt.Sprintf("action %s finished without producing a result", inv.Action.ID))
	}
	return result, nil
}

// classified maps any failure to the wire error record, stamping the
// operation id and a trace id when the action did not set its own.
func classified(inv Invocation, err error, traceID string) *pebble.Error {
	record := pebble.Classify(err)
	if record.Op == "" {
		record.WithOp(inv.Action.ID)
	}
	if record.TraceID == "" {
		record.WithTrace(traceID)
	}
	return record
}

// newTraceID returns a short correlation id for one invocation.
func newTraceID() string {
	return uuid.NewString()[:8]
}
