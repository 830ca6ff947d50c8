// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
	"github.com/pebbleworks/cf/lib/session"
)

// Agent drives one interactive turn: session attach, ready event,
// transcript tee, the consumer input stream, and at most one running
// operation that may suspend on ask/confirm exchanges.
type Agent struct {
	Stream         *pebble.StreamWriter
	Input          *pebble.LineReader
	Logger         *slog.Logger
	Sessions       *session.Manager
	DefaultTimeout time.Duration

	// Tool and Version fill the ready event.
	Tool    string
	Version string

	// ExportPath, when set, writes the session bundle after the turn.
	ExportPath string
}

// transcriptEmitter tees every outbound event through the session
// transcript before it reaches the stream. A transcript failure is a
// hard failure: an unrecorded exchange would break the chain's claim
// to completeness.
type transcriptEmitter struct {
	stream *pebble.StreamWriter
	handle *session.Handle
}

func (e *transcriptEmitter) Emit(eventType pebble.Type, payload any) error {
	event, err := pebble.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := e.handle.Append(session.DirOut, event); err != nil {
		return err
	}
	return e.stream.Write(event)
}

// inbound is one read from the consumer stream.
type inbound struct {
	event pebble.Event
	err   error
}

// opResult is what the operation goroutine reports.
type opResult struct {
	result any
	err    error
}

// Run serves one turn on an attached session. When inv is nil the
// turn is attach-only: ready is emitted and the input stream is
// served until bye or EOF. When inv is set the operation runs
// concurrently with the input pump so answer and confirm_response
// lines can resume it mid-flight.
//
// Error policy: category sys closes the session and emits bye; every
// other category leaves the session resumable. The returned error, if
// any, is an [ExitError] with the mapped code.
func (a *Agent) Run(ctx context.Context, handle *session.Handle, inv *Invocation) error {
	emitter := &transcriptEmitter{stream: a.Stream, handle: handle}
	tk := newToolkit(toolkitConfig{logger: a.Logger, emitter: emitter, interactive: true})
	defer tk.machine.Close()

	if err := emitter.Emit(pebble.TypeReady, pebble.ReadyPayload{
		SessionID: handle.Session.ID,
		Resumed:   handle.Resumed,
		Tool:      a.Tool,
		Version:   a.Version,
	}); err != nil {
		handle.Release()
		return &ExitError{Code: pebble.Classify(err).ExitCode()}
	}

	inCh := make(chan inbound)
	go func() {
		defer close(inCh)
		for {
			event, err := a.Input.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			inCh <- inbound{event: event, err: err}
		}
	}()

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()

	var opCh chan opResult
	if inv != nil {
		opCh = make(chan opResult, 1)
		invocation := *inv
		go func() {
			result, err := execute(opCtx, invocation, tk, a.DefaultTimeout)
			opCh <- opResult{result: result, err: err}
		}()
	}

	for {
		select {
		case in, ok := <-inCh:
			if !ok {
				if opCh == nil {
					// Attach-only turn: consumer hung up, leave the
					// session open for a later resume.
					return a.finishTurn(handle, nil)
				}
				// Consumer hung up mid-operation. No further response
				// can arrive, so fail any parked exchange, but let the
				// operation finish: stdout is still writable and the
				// transcript needs the terminal event.
				tk.machine.Cancel("input stream closed")
				res := <-opCh
				exit := a.reportOperation(emitter, tk, *inv, res)
				if closed, err := a.closeOnSysError(emitter, handle, res); closed {
					return err
				}
				return a.finishTurn(handle, exit)
			}
			if in.err != nil {
				a.emitProtocolError(emitter, in.err)
				continue
			}
			if done, err := a.handleInbound(emitter, tk, handle, opCancel, opCh, in.event); done {
				return err
			}

		case res := <-opCh:
			exit := a.reportOperation(emitter, tk, *inv, res)
			if closed, err := a.closeOnSysError(emitter, handle, res); closed {
				return err
			}
			return a.finishTurn(handle, exit)

		case <-ctx.Done():
			// Interrupt: cancel cooperatively and report.
			opCancel()
			tk.machine.Cancel("interrupted")
			if opCh != nil {
				<-opCh
			}
			if err := emitter.Emit(pebble.TypeCancelled, pebble.CancelledPayload{
				Reason: "interrupted",
			}); err != nil {
				a.Logger.Error("emitting cancelled event", "error", err)
			}
			return a.finishTurn(handle, &ExitError{Code: 1})
		}
	}
}

// handleInbound processes one consumer event. It reports whether the
// turn is over and, if so, the exit error to return.
func (a *Agent) handleInbound(emitter *transcriptEmitter, tk *Toolkit, handle *session.Handle,
	opCancel context.CancelFunc, opCh chan opResult, event pebble.Event) (bool, error) {

	if err := handle.Append(session.DirIn, event); err != nil {
		a.Logger.Error("recording inbound event", "error", err)
		return true, a.closeSession(emitter, handle, pebble.Classify(err))
	}

	switch event.Type {
	case pebble.TypeAnswer, pebble.TypeConfirmResponse:
		if err := tk.machine.HandleResponse(event); err != nil {
			a.emitProtocolError(emitter, err)
		}
		return false, nil

	case pebble.TypeCancelled:
		var payload pebble.CancelledPayload
		reason := "cancelled by consumer"
		if err := event.DecodePayload(&payload); err == nil && payload.Reason != "" {
			reason = payload.Reason
		}
		opCancel()
		tk.machine.Cancel(reason)
		if opCh == nil {
			// Nothing was running; acknowledge and keep serving.
			if err := emitter.Emit(pebble.TypeCancelled, pebble.CancelledPayload{
				Reason: reason,
			}); err != nil {
				a.Logger.Error("emitting cancelled event", "error", err)
			}
		}
		return false, nil

	case pebble.TypeBye:
		tk.machine.Close()
		if err := emitter.Emit(pebble.TypeBye, pebble.ByePayload{
			SessionID: handle.Session.ID,
			Reason:    "consumer ended conversation",
		}); err != nil {
			a.Logger.Error("emitting bye event", "error", err)
		}
		if err := a.exportIfRequested(handle); err != nil {
			a.Logger.Error("exporting session", "error", err)
		}
		if err := handle.End(); err != nil {
			a.Logger.Error("closing session", "error", err)
		}
		return true, nil

	default:
		// Open vocabulary: unknown inbound types are transcribed and
		// otherwise ignored.
		a.Logger.Debug("ignoring inbound event", "type", string(event.Type))
		return false, nil
	}
}

// reportOperation emits the terminal event for a finished operation
// and returns the exit error for the turn.
func (a *Agent) reportOperation(emitter *transcriptEmitter, tk *Toolkit, inv Invocation, res opResult) error {
	if res.err == nil {
		if err := emitter.Emit(pebble.TypeResult, res.result); err != nil {
			a.Logger.Error("emitting result event", "error", err)
			return &ExitError{Code: pebble.Classify(err).ExitCode()}
		}
		return nil
	}

	var cancelled *Cancelled
	if errors.As(res.err, &cancelled) {
		if err := emitter.Emit(pebble.TypeCancelled, pebble.CancelledPayload{
			Op:     cancelled.Op,
			Reason: cancelled.Reason,
		}); err != nil {
			a.Logger.Error("emitting cancelled event", "error", err)
		}
		return &ExitError{Code: 1}
	}

	record := classified(inv, res.err, newTraceID())
	if record.Code == "CANCELLED" {
		if err := emitter.Emit(pebble.TypeCancelled, pebble.CancelledPayload{
			Op:     record.Op,
			Reason: record.Message,
		}); err != nil {
			a.Logger.Error("emitting cancelled event", "error", err)
		}
		return &ExitError{Code: 1}
	}

	if err := emitter.Emit(pebble.TypeError, record); err != nil {
		a.Logger.Error("emitting error event", "error", err)
	}
	return &ExitError{Code: record.ExitCode()}
}

// closeOnSysError ends the session when the operation failed with a
// system-category error: internal faults leave unknown state behind,
// so the conversation cannot safely continue.
func (a *Agent) closeOnSysError(emitter *transcriptEmitter, handle *session.Handle, res opResult) (bool, error) {
	if res.err == nil {
		return false, nil
	}
	var cancelled *Cancelled
	if errors.As(res.err, &cancelled) {
		return false, nil
	}
	record := pebble.Classify(res.err)
	if record.Cat != pebble.CatSys {
		return false, nil
	}
	return true, a.closeSession(emitter, handle, record)
}

// closeSession emits bye, closes the session, and returns the exit
// error for the sys failure that caused it.
func (a *Agent) closeSession(emitter *transcriptEmitter, handle *session.Handle, record *pebble.Error) error {
	if err := emitter.Emit(pebble.TypeBye, pebble.ByePayload{
		SessionID: handle.Session.ID,
		Reason:    "internal error",
	}); err != nil {
		a.Logger.Error("emitting bye event", "error", err)
	}
	if err := a.exportIfRequested(handle); err != nil {
		a.Logger.Error("exporting session", "error", err)
	}
	if err := handle.End(); err != nil {
		a.Logger.Error("closing session", "error", err)
	}
	return &ExitError{Code: record.ExitCode()}
}

// finishTurn exports if requested and releases the claim so the
// session can be resumed by a later invocation.
func (a *Agent) finishTurn(handle *session.Handle, exit error) error {
	if err := a.exportIfRequested(handle); err != nil {
		a.Logger.Error("exporting session", "error", err)
		if exit == nil {
			exit = &ExitError{Code: pebble.Classify(err).ExitCode()}
		}
	}
	handle.Release()
	return exit
}

// exportIfRequested writes the session bundle to the configured path.
func (a *Agent) exportIfRequested(handle *session.Handle) error {
	if a.ExportPath == "" {
		return nil
	}
	bundle, err := a.Sessions.Export(handle.Session.ID, a.Tool)
	if err != nil {
		return err
	}
	return session.WriteBundle(a.ExportPath, bundle)
}

// emitProtocolError reports a consumer protocol violation on the
// stream without disturbing the dialogue state.
func (a *Agent) emitProtocolError(emitter *transcriptEmitter, err error) {
	record := pebble.Classify(err)
	if emitErr := emitter.Emit(pebble.TypeError, record); emitErr != nil {
		a.Logger.Error("emitting protocol error event", "error", emitErr)
	}
}
