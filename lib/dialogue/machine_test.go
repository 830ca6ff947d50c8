// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []pebble.Event
	fail   error
}

func (r *recordingEmitter) Emit(eventType pebble.Type, payload any) error {
	if r.fail != nil {
		return r.fail
	}
	event, err := pebble.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) last(t *testing.T) pebble.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no events emitted")
	}
	return r.events[len(r.events)-1]
}

func newTestMachine(emitter *recordingEmitter) *Machine {
	seq := 0
	return New(Config{
		Emitter:     emitter,
		Interactive: true,
		NewID: func() string {
			seq++
			return fmt.Sprintf("%04d", seq)
		},
	})
}

func response(t *testing.T, eventType pebble.Type, payload any) pebble.Event {
	t.Helper()
	event, err := pebble.NewEvent(eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return event
}

func TestAskAnswerRoundTrip(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	type askResult struct {
		value string
		err   error
	}
	done := make(chan askResult, 1)
	go func() {
		value, err := m.Ask(context.Background(), "Which container format?", []string{"mp4", "mkv"})
		done <- askResult{value, err}
	}()

	// Wait for the ask to be emitted and the machine to suspend.
	waitForState(t, m, AwaitingAnswer)

	var ask pebble.AskPayload
	if err := emitter.last(t).DecodePayload(&ask); err != nil {
		t.Fatal(err)
	}
	if ask.Question != "Which container format?" || len(ask.Options) != 2 {
		t.Errorf("ask payload = %+v", ask)
	}
	pending := m.Pending()
	if pending == nil || pending.ID != ask.ID || pending.Kind != KindAsk {
		t.Fatalf("pending = %+v, ask id %s", pending, ask.ID)
	}

	if err := m.HandleResponse(response(t, pebble.TypeAnswer, pebble.AnswerPayload{
		ID:    ask.ID,
		Value: "mp4",
	})); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	result := <-done
	if result.err != nil {
		t.Fatalf("Ask: %v", result.err)
	}
	if result.value != "mp4" {
		t.Errorf("answer = %q, want mp4", result.value)
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
	if m.Pending() != nil {
		t.Error("exchange still pending after answer")
	}
}

func TestConfirmApprovalAndDenial(t *testing.T) {
	for _, approved := range []bool{true, false} {
		emitter := &recordingEmitter{}
		m := newTestMachine(emitter)

		done := make(chan bool, 1)
		go func() {
			verdict, err := m.Confirm(context.Background(), "caddy.reload", pebble.RiskHigh, "/etc/caddy/Caddyfile")
			if err != nil {
				t.Errorf("Confirm: %v", err)
			}
			done <- verdict
		}()
		waitForState(t, m, AwaitingConfirmation)

		var confirm pebble.ConfirmPayload
		if err := emitter.last(t).DecodePayload(&confirm); err != nil {
			t.Fatal(err)
		}
		if confirm.Risk != pebble.RiskHigh || confirm.Path == "" {
			t.Errorf("confirm payload = %+v", confirm)
		}

		if err := m.HandleResponse(response(t, pebble.TypeConfirmResponse, pebble.ConfirmResponsePayload{
			ID:       confirm.ID,
			Approved: approved,
		})); err != nil {
			t.Fatal(err)
		}
		if verdict := <-done; verdict != approved {
			t.Errorf("verdict = %v, want %v", verdict, approved)
		}
	}
}

func TestMismatchedResponseLeavesExchange(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	done := make(chan string, 1)
	go func() {
		value, err := m.Ask(context.Background(), "Proceed how?", nil)
		if err != nil {
			t.Errorf("Ask: %v", err)
		}
		done <- value
	}()
	waitForState(t, m, AwaitingAnswer)

	var ask pebble.AskPayload
	if err := emitter.last(t).DecodePayload(&ask); err != nil {
		t.Fatal(err)
	}

	// Wrong id: rejected as input error, exchange stays live.
	err := m.HandleResponse(response(t, pebble.TypeAnswer, pebble.AnswerPayload{
		ID:    "q-bogus",
		Value: "nope",
	}))
	assertExchangeMismatch(t, err)
	if m.State() != AwaitingAnswer {
		t.Fatalf("state after mismatched id = %s", m.State())
	}

	// Wrong kind: a confirm_response cannot resolve an ask.
	err = m.HandleResponse(response(t, pebble.TypeConfirmResponse, pebble.ConfirmResponsePayload{
		ID:       ask.ID,
		Approved: true,
	}))
	assertExchangeMismatch(t, err)
	if m.State() != AwaitingAnswer {
		t.Fatalf("state after mismatched kind = %s", m.State())
	}

	// The correct answer still lands.
	if err := m.HandleResponse(response(t, pebble.TypeAnswer, pebble.AnswerPayload{
		ID:    ask.ID,
		Value: "carefully",
	})); err != nil {
		t.Fatal(err)
	}
	if value := <-done; value != "carefully" {
		t.Errorf("answer = %q", value)
	}
}

func TestResponseWithNoExchange(t *testing.T) {
	m := newTestMachine(&recordingEmitter{})
	err := m.HandleResponse(response(t, pebble.TypeAnswer, pebble.AnswerPayload{
		ID:    "q-0001",
		Value: "mp4",
	}))
	assertExchangeMismatch(t, err)
}

func TestDuplicateExchangeRejected(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	go m.Ask(context.Background(), "first?", nil)
	waitForState(t, m, AwaitingAnswer)

	_, err := m.Ask(context.Background(), "second?", nil)
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "DUPLICATE_EXCHANGE" {
		t.Fatalf("expected DUPLICATE_EXCHANGE, got %v", err)
	}
	if record.Cat != pebble.CatSys {
		t.Errorf("cat = %s, want sys", record.Cat)
	}

	// The first exchange is unaffected.
	if m.State() != AwaitingAnswer {
		t.Errorf("state = %s", m.State())
	}
	m.Cancel("test cleanup")
}

func TestNonInteractiveAsk(t *testing.T) {
	m := New(Config{Emitter: &recordingEmitter{}, Interactive: false})

	_, err := m.Ask(context.Background(), "anyone there?", nil)
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "NOT_INTERACTIVE" {
		t.Fatalf("expected NOT_INTERACTIVE, got %v", err)
	}
	if record.Cat != pebble.CatInput {
		t.Errorf("cat = %s, want in", record.Cat)
	}

	_, err = m.Confirm(context.Background(), "r2.delete", pebble.RiskHigh, "uploads/a.bin")
	if !errors.As(err, &record) || record.Code != "NOT_INTERACTIVE" {
		t.Fatalf("expected NOT_INTERACTIVE, got %v", err)
	}
}

func TestCancelResumesParkedOperation(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	errs := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), "still there?", nil)
		errs <- err
	}()
	waitForState(t, m, AwaitingAnswer)

	if !m.Cancel("consumer sent cancelled") {
		t.Fatal("Cancel reported no exchange")
	}
	err := <-errs
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}

	// Cancel with nothing outstanding reports false.
	if m.Cancel("") {
		t.Error("Cancel with no exchange reported true")
	}
}

func TestContextExpiryAbortsExchange(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Ask(ctx, "taking too long?", nil)
	var record *pebble.Error
	if !errors.As(err, &record) || record.Cat != pebble.CatTime {
		t.Fatalf("expected time-category error, got %v", err)
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
	if m.Pending() != nil {
		t.Error("exchange survived context expiry")
	}
}

func TestCloseEndsConversation(t *testing.T) {
	emitter := &recordingEmitter{}
	m := newTestMachine(emitter)

	errs := make(chan error, 1)
	go func() {
		_, err := m.Ask(context.Background(), "last question?", nil)
		errs <- err
	}()
	waitForState(t, m, AwaitingAnswer)

	m.Close()
	err := <-errs
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if m.State() != Closed {
		t.Errorf("state = %s, want closed", m.State())
	}

	// No exchange opens after close.
	_, err = m.Ask(context.Background(), "anyone?", nil)
	if !errors.As(err, &record) || record.Code != "SESSION_CLOSED" {
		t.Fatalf("expected SESSION_CLOSED, got %v", err)
	}
}

func TestEmitFailureAborts(t *testing.T) {
	emitter := &recordingEmitter{fail: errors.New("broken pipe")}
	m := newTestMachine(emitter)

	_, err := m.Ask(context.Background(), "hello?", nil)
	if err == nil {
		t.Fatal("Ask succeeded with failing emitter")
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
	if m.Pending() != nil {
		t.Error("exchange left pending after emit failure")
	}
}

func assertExchangeMismatch(t *testing.T, err error) {
	t.Helper()
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "EXCHANGE_MISMATCH" {
		t.Fatalf("expected EXCHANGE_MISMATCH, got %v", err)
	}
	if record.Cat != pebble.CatInput {
		t.Errorf("cat = %s, want in", record.Cat)
	}
}

// waitForState polls until the machine reaches the wanted state; the
// suspension happens on a goroutine so there is no synchronous hook.
func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("machine never reached %s (state %s)", want, m.State())
}
