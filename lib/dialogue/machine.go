// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package dialogue implements the exchange state machine for agent
// mode: ask/answer, confirm/confirm_response, cancellation, and
// conversation close.
//
// The machine owns the single PendingExchange for a session. An
// operation that calls [Machine.Ask] or [Machine.Confirm] is parked
// on the exchange until the driving loop delivers the matching
// response via [Machine.HandleResponse], the operation context
// expires, or the exchange is cancelled. Resuming is a plain function
// call carrying the exchange id and payload; the machine never polls.
package dialogue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pebbleworks/cf/lib/pebble"
)

// State is the dialogue position of a session.
type State int

const (
	// Idle means no exchange is outstanding; an operation may run
	// or has finished.
	Idle State = iota
	// AwaitingAnswer means an ask event is outstanding.
	AwaitingAnswer
	// AwaitingConfirmation means a confirm event is outstanding.
	AwaitingConfirmation
	// Closed is terminal: the conversation has ended and no further
	// exchanges are possible.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAnswer:
		return "awaiting_answer"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind distinguishes the two exchange shapes.
type Kind int

const (
	// KindAsk is a question expecting a value.
	KindAsk Kind = iota
	// KindConfirm is an approval gate expecting a verdict.
	KindConfirm
)

// Emitter is where the machine publishes its outbound ask and
// confirm events. The stream writer satisfies it directly; agent
// mode wraps it with a transcript tee.
type Emitter interface {
	Emit(eventType pebble.Type, payload any) error
}

// reply is what a resumed exchange delivers to the parked operation.
type reply struct {
	value    string
	approved bool
	err      *pebble.Error
}

// exchange is the single outstanding question or confirmation.
type exchange struct {
	id    string
	kind  Kind
	reply chan reply
}

// PendingExchange is the observable description of the outstanding
// exchange, if any.
type PendingExchange struct {
	ID   string
	Kind Kind
}

// Config configures a Machine.
type Config struct {
	// Emitter receives the outbound ask/confirm events. Required.
	Emitter Emitter

	// Interactive enables exchanges. When false (skill mode, no
	// input stream) Ask and Confirm fail immediately with a
	// category-in error instead of suspending forever.
	Interactive bool

	// NewID overrides exchange id generation. Defaults to short
	// random ids. Tests use this for deterministic ids.
	NewID func() string
}

// Machine governs the dialogue exchanges of one session. All methods
// are safe for concurrent use by the driving loop and the single
// running operation.
type Machine struct {
	mu          sync.Mutex
	state       State
	pending     *exchange
	emitter     Emitter
	interactive bool
	newID       func() string
}

// New returns a machine in the Idle state.
func New(config Config) *Machine {
	newID := config.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString()[:8] }
	}
	return &Machine{
		emitter:     config.Emitter,
		interactive: config.Interactive,
		newID:       newID,
	}
}

// State returns the current dialogue state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the outstanding exchange, or nil.
func (m *Machine) Pending() *PendingExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	return &PendingExchange{ID: m.pending.id, Kind: m.pending.kind}
}

// Ask emits an ask event and suspends the calling operation until
// the matching answer arrives. It returns the answered value, or a
// time-category error if ctx expires first, or CANCELLED if the
// exchange is cancelled or the conversation closes.
func (m *Machine) Ask(ctx context.Context, question string, options []string) (string, error) {
	ex, err := m.open(KindAsk, "q")
	if err != nil {
		return "", err
	}
	if err := m.emitter.Emit(pebble.TypeAsk, pebble.AskPayload{
		ID:       ex.id,
		Question: question,
		Options:  options,
	}); err != nil {
		m.abort(ex)
		return "", pebble.Classify(err)
	}
	r, err := m.wait(ctx, ex)
	if err != nil {
		return "", err
	}
	return r.value, nil
}

// Confirm emits a confirm event and suspends until the matching
// confirm_response arrives. Denial is a value, not an error: the
// operation decides whether to emit cancelled or error for the
// aborted step.
func (m *Machine) Confirm(ctx context.Context, action, risk, path string) (bool, error) {
	ex, err := m.open(KindConfirm, "c")
	if err != nil {
		return false, err
	}
	if err := m.emitter.Emit(pebble.TypeConfirm, pebble.ConfirmPayload{
		ID:     ex.id,
		Action: action,
		Risk:   risk,
		Path:   path,
	}); err != nil {
		m.abort(ex)
		return false, pebble.Classify(err)
	}
	r, err := m.wait(ctx, ex)
	if err != nil {
		return false, err
	}
	return r.approved, nil
}

// open registers the pending exchange. At most one exchange exists
// at a time: a second ask or confirm while one is outstanding is a
// collaborator contract violation, not a queueing request.
func (m *Machine) open(kind Kind, idPrefix string) (*exchange, error) {
	if !m.interactive {
		return nil, pebble.Input("NOT_INTERACTIVE",
			"interactive exchange requested outside agent mode")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed {
		return nil, pebble.Sys("SESSION_CLOSED", "exchange requested after conversation end")
	}
	if m.pending != nil {
		return nil, pebble.Sys("DUPLICATE_EXCHANGE",
			fmt.Sprintf("exchange requested while %s is outstanding", m.pending.id))
	}

	ex := &exchange{
		id:    idPrefix + "-" + m.newID(),
		kind:  kind,
		reply: make(chan reply, 1),
	}
	m.pending = ex
	if kind == KindAsk {
		m.state = AwaitingAnswer
	} else {
		m.state = AwaitingConfirmation
	}
	return ex, nil
}

// wait parks the operation on the exchange.
func (m *Machine) wait(ctx context.Context, ex *exchange) (reply, error) {
	select {
	case r := <-ex.reply:
		if r.err != nil {
			return reply{}, r.err
		}
		return r, nil
	case <-ctx.Done():
		m.abort(ex)
		return reply{}, pebble.Classify(ctx.Err())
	}
}

// abort clears ex if it is still the pending exchange and returns
// the machine to Idle. Used when emit fails or ctx expires.
func (m *Machine) abort(ex *exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == ex {
		m.pending = nil
		if m.state != Closed {
			m.state = Idle
		}
	}
}

// HandleResponse routes an inbound answer or confirm_response to the
// pending exchange. A response whose id or kind does not match the
// single outstanding exchange is a protocol violation (category in)
// and leaves the machine state untouched.
func (m *Machine) HandleResponse(event pebble.Event) error {
	switch event.Type {
	case pebble.TypeAnswer:
		var payload pebble.AnswerPayload
		if err := event.DecodePayload(&payload); err != nil {
			return err
		}
		return m.resume(payload.ID, KindAsk, reply{value: payload.Value})

	case pebble.TypeConfirmResponse:
		var payload pebble.ConfirmResponsePayload
		if err := event.DecodePayload(&payload); err != nil {
			return err
		}
		return m.resume(payload.ID, KindConfirm, reply{approved: payload.Approved})

	default:
		return pebble.Input("EXCHANGE_MISMATCH",
			fmt.Sprintf("event type %q is not a dialogue response", event.Type))
	}
}

// resume delivers the response and returns the machine to Idle.
func (m *Machine) resume(id string, kind Kind, r reply) error {
	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return pebble.Input("EXCHANGE_MISMATCH",
			fmt.Sprintf("response %q arrived with no exchange outstanding", id))
	}
	if m.pending.id != id {
		outstanding := m.pending.id
		m.mu.Unlock()
		return pebble.Input("EXCHANGE_MISMATCH",
			fmt.Sprintf("response id %q does not match outstanding exchange %q", id, outstanding))
	}
	if m.pending.kind != kind {
		m.mu.Unlock()
		return pebble.Input("EXCHANGE_MISMATCH",
			fmt.Sprintf("response kind does not match exchange %q", id))
	}

	ex := m.pending
	m.pending = nil
	m.state = Idle
	m.mu.Unlock()

	ex.reply <- r
	return nil
}

// Cancel abandons the outstanding exchange, if any, and returns the
// machine to Idle. The parked operation receives a CANCELLED error
// and is expected to stop cooperatively. Reports whether an exchange
// was actually cancelled.
func (m *Machine) Cancel(reason string) bool {
	m.mu.Lock()
	ex := m.pending
	m.pending = nil
	if m.state != Closed {
		m.state = Idle
	}
	m.mu.Unlock()

	if ex == nil {
		return false
	}
	if reason == "" {
		reason = "exchange cancelled"
	}
	ex.reply <- reply{err: pebble.Input("CANCELLED", reason).WithFix()}
	return true
}

// Close ends the conversation. Any outstanding exchange is cancelled
// and no further exchanges are accepted.
func (m *Machine) Close() {
	m.mu.Lock()
	ex := m.pending
	m.pending = nil
	m.state = Closed
	m.mu.Unlock()

	if ex != nil {
		ex.reply <- reply{err: pebble.Input("CANCELLED", "conversation closed").WithFix()}
	}
}
