// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Action is one dispatchable operation.
type Action struct {
	// ID is the dotted action identifier, e.g. "dns.create".
	ID string

	// Summary is the one-line description carried into the manifest
	// and the CLI help listing.
	Summary string

	// Args describes the positional arguments, in order.
	Args []pebble.ArgSpec

	// Params returns a fresh pointer-to-struct whose tagged fields
	// define the action's options. The CLI binds flags to it, the
	// manifest generator reflects option specs from it, and Run
	// receives the populated value. Nil means no options.
	Params func() any

	// Timeout overrides the default operation timeout when positive.
	Timeout time.Duration

	// Run executes the operation. params is the populated value from
	// Params (nil when Params is nil). The returned value becomes the
	// result payload; returning nil without an error is a contract
	// violation the dispatcher reports as sys/INTERNAL.
	Run func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error)
}

// Registry is the closed set of actions a build dispatches. It is
// populated at startup and read-only afterwards.
type Registry struct {
	actions map[string]*Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register adds an action. A duplicate id is a programming error.
func (r *Registry) Register(action *Action) error {
	if action.ID == "" {
		return fmt.Errorf("action with empty id")
	}
	if action.Run == nil {
		return fmt.Errorf("action %s has no Run function", action.ID)
	}
	if _, exists := r.actions[action.ID]; exists {
		return fmt.Errorf("action %s registered twice", action.ID)
	}
	r.actions[action.ID] = action
	return nil
}

// MustRegister is Register for init-time wiring, panicking on
// conflicts so a broken tree fails at startup rather than dispatch.
func (r *Registry) MustRegister(action *Action) {
	if err := r.Register(action); err != nil {
		panic("dispatch: " + err.Error())
	}
}

// Lookup returns the action for an id.
func (r *Registry) Lookup(id string) (*Action, bool) {
	action, ok := r.actions[id]
	return action, ok
}

// Actions returns all registered actions sorted by id.
func (r *Registry) Actions() []*Action {
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	actions := make([]*Action, len(ids))
	for i, id := range ids {
		actions[i] = r.actions[id]
	}
	return actions
}

// Invocation is one parsed call: the action plus its populated params
// and remaining positional args.
type Invocation struct {
	Action *Action
	Params any
	Args   []string
}

// ExitError signals a non-zero exit for a failure that has already
// been reported on the appropriate stream. The main function checks
// for the ExitCode interface and exits silently.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the mapped process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Cancelled reports that the consumer declined or abandoned a step.
// The dispatcher emits a cancelled event rather than an error for it,
// and the guarded action does not execute.
type Cancelled struct {
	Op     string
	Reason string
}

func (c *Cancelled) Error() string {
	if c.Reason == "" {
		return c.Op + " cancelled"
	}
	return c.Op + " cancelled: " + c.Reason
}
