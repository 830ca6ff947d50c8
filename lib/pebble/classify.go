// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package pebble

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Classify normalizes a collaborator failure into an error record at
// the dispatcher boundary. A native failure representation never
// reaches the event stream: typed records pass through, known
// failure shapes map to their categories, and anything unrecognized
// is an internal error.
func Classify(err error) *Error {
	var record *Error
	if errors.As(err, &record) {
		return record
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("TIMEOUT", err.Error(), 5)
	}
	if errors.Is(err, context.Canceled) {
		return Input("CANCELLED", "operation cancelled").WithFix()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout("TIMEOUT", err.Error(), 5)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return Net("CONNECT_FAILED", err.Error())
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Net("CONNECT_FAILED", err.Error())
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Net("CONNECT_FAILED", err.Error())
	}

	return Sys("INTERNAL", err.Error())
}
