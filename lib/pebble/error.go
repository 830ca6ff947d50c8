// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package pebble

// Category classifies a failure for retry policy and exit-code
// mapping. The set is open: code handling unrecognized categories
// must fall through to the default exit-code branch, never fail.
type Category string

const (
	// CatInput covers invalid arguments, malformed protocol lines,
	// and anything else the caller can fix by changing the request.
	CatInput Category = "in"
	// CatNet covers connectivity failures on the way to a
	// downstream service.
	CatNet Category = "net"
	// CatAuth covers rejected credentials and missing permissions.
	CatAuth Category = "auth"
	// CatExt covers downstream services that answered with an error.
	CatExt Category = "ext"
	// CatSys covers internal defects and broken local state.
	CatSys Category = "sys"
	// CatTime covers deadline expiry, local or downstream.
	CatTime Category = "time"
)

// Remediation hints carried in the fix list. The vocabulary is
// controlled but extensible; consumers ignore hints they do not know.
const (
	FixParam  = "param"
	FixProxy  = "proxy"
	FixAuth   = "auth"
	FixWait   = "wait"
	FixReport = "report"
)

// Error is the structured error record emitted as the payload of an
// error event. Code is a stable machine key; Cat drives the default
// exit code and retry policy. Retryable and RetryAfterS are advisory:
// the tool never retries on its own.
type Error struct {
	Code        string         `json:"code"`
	Cat         Category       `json:"cat"`
	Op          string         `json:"op,omitempty"`
	Retryable   bool           `json:"retryable"`
	RetryAfterS int            `json:"retry_after_s,omitempty"`
	Fix         []string       `json:"fix"`
	Message     string         `json:"message,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ExitCode maps the category to the process exit code. The CLI entry
// point checks for this method on returned errors.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Cat)
}

// ExitCodeFor is the category to exit-code mapping: in(1), auth(3),
// time(4), everything else including unknown categories (2).
// Success, meaning no error emitted at all, is 0.
func ExitCodeFor(cat Category) int {
	switch cat {
	case CatInput:
		return 1
	case CatAuth:
		return 3
	case CatTime:
		return 4
	default:
		return 2
	}
}

// Input builds a category-in error: not retryable, fixable by
// correcting parameters.
func Input(code, message string) *Error {
	return &Error{Code: code, Cat: CatInput, Fix: []string{FixParam}, Message: message}
}

// Net builds a category-net error: retryable after a short wait,
// possibly a proxy problem.
func Net(code, message string) *Error {
	return &Error{Code: code, Cat: CatNet, Retryable: true, RetryAfterS: 5,
		Fix: []string{FixProxy, FixWait}, Message: message}
}

// Auth builds a category-auth error: not retryable until credentials
// change.
func Auth(code, message string) *Error {
	return &Error{Code: code, Cat: CatAuth, Fix: []string{FixAuth}, Message: message}
}

// Ext builds a category-ext error: the downstream service failed,
// retryable after a short wait.
func Ext(code, message string) *Error {
	return &Error{Code: code, Cat: CatExt, Retryable: true, RetryAfterS: 5,
		Fix: []string{FixWait, FixReport}, Message: message}
}

// Sys builds a category-sys error: an internal defect worth
// reporting, not retryable.
func Sys(code, message string) *Error {
	return &Error{Code: code, Cat: CatSys, Fix: []string{FixReport}, Message: message}
}

// Timeout builds a category-time error with an explicit retry hint.
func Timeout(code, message string, retryAfterS int) *Error {
	return &Error{Code: code, Cat: CatTime, Retryable: true, RetryAfterS: retryAfterS,
		Fix: []string{FixWait}, Message: message}
}

// WithOp records the action id the error occurred in.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails attaches structured context for the consumer.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithFix replaces the remediation hints.
func (e *Error) WithFix(hints ...string) *Error {
	e.Fix = hints
	return e
}

// WithTrace records the invocation trace id.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithRetryAfter overrides the advisory retry delay and marks the
// error retryable.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.Retryable = true
	e.RetryAfterS = seconds
	return e
}
