// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type echoParams struct {
	Domain  string `flag:"domain,d" desc:"target domain" required:"true"`
	Proxied bool   `flag:"proxied" desc:"proxy through edge" default:"false"`
	Limit   int    `flag:"limit" desc:"max results" default:"100"`
	Format  string `flag:"format" desc:"output format" default:"table" enum:"table,json"`
}

func echoAction() *Action {
	return &Action{
		ID:      "test.echo",
		Summary: "Echo parameters back as the result.",
		Params:  func() any { return &echoParams{} },
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			p := params.(*echoParams)
			return map[string]any{"domain": p.Domain, "limit": p.Limit}, nil
		},
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoAction()); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := registry.Register(echoAction()); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
	if err := registry.Register(&Action{ID: "no.run"}); err == nil {
		t.Fatal("Register accepted action without Run")
	}
}

func TestOptionsFromParams(t *testing.T) {
	options, err := OptionsFromParams(&echoParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(options) != 4 {
		t.Fatalf("options = %d, want 4", len(options))
	}

	byName := make(map[string]pebble.OptionSpec)
	for _, option := range options {
		byName[option.Name] = option
	}

	domain := byName["domain"]
	if domain.Short != "d" || domain.Type != "string" || !domain.Required {
		t.Errorf("domain = %+v", domain)
	}
	if limit := byName["limit"]; limit.Type != "integer" || limit.Default != int64(100) {
		t.Errorf("limit = %+v", limit)
	}
	if proxied := byName["proxied"]; proxied.Type != "boolean" || proxied.Default != false {
		t.Errorf("proxied = %+v", proxied)
	}
	format := byName["format"]
	if len(format.Enum) != 2 || format.Enum[0] != "table" {
		t.Errorf("format enum = %v", format.Enum)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(echoAction())

	info := ToolInfo{
		Identity: pebble.ToolIdentity{Name: "cf", Version: "1.0.0"},
		Limits:   pebble.Limits{DefaultTimeoutS: 60, MaxOutputMB: 10},
	}
	manifest, err := BuildManifest(registry, info)
	if err != nil {
		t.Fatal(err)
	}
	if manifest.SchemaVersion != pebble.ManifestSchemaVersion {
		t.Errorf("schema_version = %s", manifest.SchemaVersion)
	}
	if !manifest.Capabilities.Agent || !manifest.Capabilities.Resume {
		t.Errorf("capabilities = %+v", manifest.Capabilities)
	}
	if len(manifest.Actions) != 1 || manifest.Actions[0].ID != "test.echo" {
		t.Fatalf("actions = %+v", manifest.Actions)
	}
	if len(manifest.Actions[0].Options) != 4 {
		t.Errorf("options = %d, want 4", len(manifest.Actions[0].Options))
	}

	if err := ValidateManifest(manifest, registry); err != nil {
		t.Errorf("ValidateManifest: %v", err)
	}

	// A registered action missing from the manifest fails validation.
	registry.MustRegister(&Action{
		ID:      "test.extra",
		Summary: "Unlisted.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			return map[string]any{}, nil
		},
	})
	if err := ValidateManifest(manifest, registry); err == nil {
		t.Error("ValidateManifest passed with unlisted action")
	}

	// A manifest action that is not registered fails the other way.
	manifest.Actions = append(manifest.Actions, pebble.ActionSpec{ID: "test.ghost"})
	if err := ValidateManifest(manifest, NewRegistry()); err == nil {
		t.Error("ValidateManifest passed with ghost action")
	}
}

func TestSkillEmitsResult(t *testing.T) {
	var out bytes.Buffer
	skill := &Skill{
		Stream:         pebble.NewStreamWriter(&out),
		Logger:         discardLogger(),
		DefaultTimeout: time.Minute,
	}
	params := &echoParams{Domain: "example.com", Limit: 5}
	err := skill.Run(context.Background(), Invocation{Action: echoAction(), Params: params})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 1 || events[0].Type != pebble.TypeResult {
		t.Fatalf("events = %v", eventTypes(events))
	}
	var result map[string]any
	if err := events[0].DecodePayload(&result); err != nil {
		t.Fatal(err)
	}
	if result["domain"] != "example.com" {
		t.Errorf("result = %v", result)
	}
}

func TestSkillErrorMapsExitCode(t *testing.T) {
	failing := &Action{
		ID:      "test.fail",
		Summary: "Always fails with an auth error.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			return nil, pebble.Auth("AUTH_FAILED", "token rejected")
		},
	}

	var out bytes.Buffer
	skill := &Skill{Stream: pebble.NewStreamWriter(&out), Logger: discardLogger()}
	err := skill.Run(context.Background(), Invocation{Action: failing})

	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 3 {
		t.Fatalf("exit = %v, want code 3", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 1 || events[0].Type != pebble.TypeError {
		t.Fatalf("events = %v", eventTypes(events))
	}
	var record pebble.Error
	if err := events[0].DecodePayload(&record); err != nil {
		t.Fatal(err)
	}
	if record.Code != "AUTH_FAILED" || record.Cat != pebble.CatAuth {
		t.Errorf("record = %+v", record)
	}
	if record.Op != "test.fail" {
		t.Errorf("op = %q, want test.fail", record.Op)
	}
	if record.TraceID == "" {
		t.Error("trace id not stamped")
	}
}

func TestSkillAskFailsNotInteractive(t *testing.T) {
	asking := &Action{
		ID:      "test.ask",
		Summary: "Asks a question.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			value, err := tk.Ask(ctx, "which?", nil)
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": value}, nil
		},
	}

	var out bytes.Buffer
	skill := &Skill{Stream: pebble.NewStreamWriter(&out), Logger: discardLogger()}
	err := skill.Run(context.Background(), Invocation{Action: asking})

	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 1 {
		t.Fatalf("exit = %v, want code 1", err)
	}
	events := decodeLines(t, out.String())
	var record pebble.Error
	if err := events[len(events)-1].DecodePayload(&record); err != nil {
		t.Fatal(err)
	}
	if record.Code != "NOT_INTERACTIVE" {
		t.Errorf("code = %s, want NOT_INTERACTIVE", record.Code)
	}
}

func TestSkillGuardProceedsWithoutChannel(t *testing.T) {
	executed := false
	guarded := &Action{
		ID:      "test.guarded",
		Summary: "Guarded destructive step.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			if err := tk.Guard(ctx, "test.guarded", pebble.RiskHigh, "/tmp/target"); err != nil {
				return nil, err
			}
			executed = true
			return map[string]any{"done": true}, nil
		},
	}

	var out bytes.Buffer
	skill := &Skill{Stream: pebble.NewStreamWriter(&out), Logger: discardLogger()}
	if err := skill.Run(context.Background(), Invocation{Action: guarded}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !executed {
		t.Error("guarded step did not execute in skill mode")
	}
}

func TestHumanPrintsResultAndErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	human := &Human{Stdout: &stdout, Stderr: &stderr, Logger: discardLogger()}

	diagnosing := &Action{
		ID:      "test.diag",
		Summary: "Emits diagnostics then a result.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			tk.Log("info", "checking")
			tk.Progress(50, "halfway")
			return map[string]any{"ok": true}, nil
		},
	}
	if err := human.Run(context.Background(), Invocation{Action: diagnosing}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(stderr.String(), "[INFO] checking") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "[ 50%] halfway") {
		t.Errorf("stderr = %q", stderr.String())
	}
	var result map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("stdout is not JSON: %q", stdout.String())
	}
	if result["ok"] != true {
		t.Errorf("result = %v", result)
	}

	// Error path: category, code, and fix hints on stderr, nothing on
	// stdout.
	stdout.Reset()
	stderr.Reset()
	failing := &Action{
		ID:      "test.fail",
		Summary: "Fails.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			return nil, pebble.Net("CONNECT_FAILED", "connection refused")
		},
	}
	err := human.Run(context.Background(), Invocation{Action: failing})
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 2 {
		t.Fatalf("exit = %v, want code 2", err)
	}
	if !strings.Contains(stderr.String(), "Error [net][CONNECT_FAILED]: connection refused") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "fix: proxy") {
		t.Errorf("stderr missing fix hints: %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout not empty on error: %q", stdout.String())
	}
}

func TestExecuteNilResultIsContractViolation(t *testing.T) {
	silent := &Action{
		ID:      "test.silent",
		Summary: "Returns nothing.",
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			return nil, nil
		},
	}
	tk := newToolkit(toolkitConfig{logger: discardLogger(), human: &bytes.Buffer{}})
	_, err := execute(context.Background(), Invocation{Action: silent}, tk, 0)
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "INTERNAL" || record.Cat != pebble.CatSys {
		t.Fatalf("expected sys/INTERNAL, got %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := &Action{
		ID:      "test.slow",
		Summary: "Sleeps past the timeout.",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context, tk *Toolkit, params any, args []string) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return map[string]any{}, nil
			}
		},
	}
	tk := newToolkit(toolkitConfig{logger: discardLogger(), human: &bytes.Buffer{}})
	_, err := execute(context.Background(), Invocation{Action: slow}, tk, time.Minute)
	record := pebble.Classify(err)
	if record.Cat != pebble.CatTime {
		t.Fatalf("expected time category, got %v", err)
	}
	if record.ExitCode() != 4 {
		t.Errorf("exit = %d, want 4", record.ExitCode())
	}
}

func decodeLines(t *testing.T, stream string) []pebble.Event {
	t.Helper()
	var events []pebble.Event
	for _, line := range strings.Split(strings.TrimSpace(stream), "\n") {
		if line == "" {
			continue
		}
		event, err := pebble.Decode([]byte(line))
		if err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func eventTypes(events []pebble.Event) []string {
	types := make([]string, len(events))
	for i, event := range events {
		types[i] = string(event.Type)
	}
	return types
}

func TestValidateRequired(t *testing.T) {
	params := &echoParams{}
	err := ValidateRequired(params)
	record := pebble.Classify(err)
	if record.Code != "INVALID_ARG" || record.Cat != pebble.CatInput {
		t.Fatalf("expected in/INVALID_ARG, got %v", err)
	}
	if !strings.Contains(record.Message, "--domain") {
		t.Errorf("message = %q, want --domain named", record.Message)
	}

	params.Domain = "example.com"
	if err := ValidateRequired(params); err != nil {
		t.Fatalf("unexpected error with domain set: %v", err)
	}
	if err := ValidateRequired(nil); err != nil {
		t.Fatalf("nil params should pass: %v", err)
	}
}
