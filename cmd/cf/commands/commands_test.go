// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pebbleworks/cf/lib/pebble"
)

// projectDir points the tool at a fresh project directory so tests
// never touch the developer's real registry or sessions.
func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CF_PROJECT_DIR", dir)
	return dir
}

func writeRegistry(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runMain(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errBuf bytes.Buffer
	err = Main(args, strings.NewReader(stdin), &out, &errBuf)
	return out.String(), errBuf.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	coder, ok := err.(interface{ ExitCode() int })
	if !ok {
		t.Fatalf("error %v does not carry an exit code", err)
	}
	return coder.ExitCode()
}

func TestManifestListsAllActions(t *testing.T) {
	projectDir(t)
	app, err := NewApp(&Globals{}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	manifest, err := app.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	want := []string{
		"dns.list", "dns.get", "dns.create", "dns.delete",
		"caddy.add", "caddy.add-lb", "caddy.validate", "caddy.reload",
		"service.check", "service.health", "service.docker-ps", "service.pm2-list",
		"registry.validate", "registry.add", "registry.stats",
		"r2.upload", "r2.list", "r2.delete", "r2.info",
		"session.list", "session.show", "session.export", "session.close",
	}
	if len(manifest.Actions) != len(want) {
		t.Fatalf("manifest has %d actions, want %d", len(manifest.Actions), len(want))
	}
	declared := make(map[string]bool)
	for _, spec := range manifest.Actions {
		declared[spec.ID] = true
	}
	for _, id := range want {
		if !declared[id] {
			t.Errorf("manifest missing action %s", id)
		}
	}
	if manifest.Pebble.Name != "cf" {
		t.Errorf("identity name %q, want cf", manifest.Pebble.Name)
	}
	if !manifest.Capabilities.Resume {
		t.Error("resume capability not declared")
	}
}

func TestMainManifestMode(t *testing.T) {
	projectDir(t)
	stdout, _, err := runMain(t, "", "--manifest")
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	var manifest pebble.Manifest
	if err := json.Unmarshal([]byte(stdout), &manifest); err != nil {
		t.Fatalf("manifest output is not JSON: %v", err)
	}
	if manifest.SchemaVersion != "1.0" {
		t.Errorf("schema_version %q, want 1.0", manifest.SchemaVersion)
	}
}

const testRegistry = `{
  // managed zones
  "version": "2.0",
  "updated": "2026-08-01",
  "domains": {
    "example.com": {
      "zone_id": "zone1",
      "records": [
        {"type": "A", "name": "www", "content": "203.0.113.7"},
        {"type": "comment", "desc": "legacy block below"},
        {"type": "CNAME", "name": "blog", "content": "www.example.com"}
      ]
    }
  },
  "servers": {
    "web1": {"location": "fra1"}
  }
}
`

func TestMainRegistryValidateHuman(t *testing.T) {
	dir := projectDir(t)
	writeRegistry(t, dir, testRegistry)

	stdout, _, err := runMain(t, "", "registry", "validate")
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	var result struct {
		Valid   bool `json:"valid"`
		Domains int  `json:"domains"`
		Records int  `json:"records"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("result output is not JSON: %v", err)
	}
	if !result.Valid {
		t.Error("registry reported invalid")
	}
	if result.Domains != 1 || result.Records != 2 {
		t.Errorf("got %d domains / %d records, want 1 / 2", result.Domains, result.Records)
	}
}

func TestMainRegistryStatsSkillMode(t *testing.T) {
	dir := projectDir(t)
	writeRegistry(t, dir, testRegistry)

	stdout, _, err := runMain(t, "", "--agent", "registry", "stats")
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	// Diagnostics ride the stream as log events ahead of the single
	// result event.
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	event, err := pebble.Decode([]byte(lines[len(lines)-1]))
	if err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if event.Type != pebble.TypeResult {
		t.Fatalf("event type %q, want result", event.Type)
	}
	for _, line := range lines[:len(lines)-1] {
		prior, err := pebble.Decode([]byte(line))
		if err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		if prior.Type == pebble.TypeResult || prior.Type == pebble.TypeError {
			t.Fatalf("unexpected terminal event before result: %s", prior.Type)
		}
	}
	var payload struct {
		TotalRecords int `json:"total_records"`
		TotalServers int `json:"total_servers"`
	}
	if err := event.DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.TotalRecords != 2 || payload.TotalServers != 1 {
		t.Errorf("got %d records / %d servers, want 2 / 1", payload.TotalRecords, payload.TotalServers)
	}
}

func TestMainMissingRegistrySkillModeError(t *testing.T) {
	projectDir(t)

	stdout, _, err := runMain(t, "", "--agent", "registry", "validate")
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	event, decodeErr := pebble.Decode([]byte(lines[len(lines)-1]))
	if decodeErr != nil {
		t.Fatalf("decoding event: %v", decodeErr)
	}
	if event.Type != pebble.TypeError {
		t.Fatalf("event type %q, want error", event.Type)
	}
	var record pebble.Error
	if err := event.DecodePayload(&record); err != nil {
		t.Fatal(err)
	}
	if record.Code != "NOT_FOUND" || record.Cat != pebble.CatInput {
		t.Errorf("got %s/%s, want in/NOT_FOUND", record.Cat, record.Code)
	}
}

func TestMainMissingRequiredFlag(t *testing.T) {
	projectDir(t)

	_, stderr, err := runMain(t, "", "dns", "get", "--domain", "example.com")
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr, "INVALID_ARG") || !strings.Contains(stderr, "--name") {
		t.Errorf("stderr does not name the missing flag: %q", stderr)
	}
}

func TestMainUnknownCommandSuggests(t *testing.T) {
	projectDir(t)

	_, stderr, err := runMain(t, "", "dsn", "list")
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr, `"dns"`) {
		t.Errorf("stderr does not suggest dns: %q", stderr)
	}
}

func TestMainVersion(t *testing.T) {
	projectDir(t)

	stdout, _, err := runMain(t, "", "version")
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	if !strings.HasPrefix(stdout, "cf ") {
		t.Errorf("version output %q", stdout)
	}
}

func TestMainInteractiveAttachOnly(t *testing.T) {
	projectDir(t)

	bye, err := pebble.NewEvent(pebble.TypeBye, pebble.ByePayload{})
	if err != nil {
		t.Fatal(err)
	}
	line, err := pebble.Encode(bye)
	if err != nil {
		t.Fatal(err)
	}

	stdout, _, mainErr := runMain(t, string(line)+"\n", "-i")
	if mainErr != nil {
		t.Fatalf("Main: %v", mainErr)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d events, want ready and bye:\n%s", len(lines), stdout)
	}
	first, err := pebble.Decode([]byte(lines[0]))
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != pebble.TypeReady {
		t.Fatalf("first event %q, want ready", first.Type)
	}
	var ready pebble.ReadyPayload
	if err := first.DecodePayload(&ready); err != nil {
		t.Fatal(err)
	}
	if ready.Tool != "cf" || ready.SessionID == "" || ready.Resumed {
		t.Errorf("unexpected ready payload: %+v", ready)
	}
	last, err := pebble.Decode([]byte(lines[1]))
	if err != nil {
		t.Fatal(err)
	}
	if last.Type != pebble.TypeBye {
		t.Fatalf("last event %q, want bye", last.Type)
	}
}

func TestMainSessionLifecycle(t *testing.T) {
	projectDir(t)

	// One attach-only turn that the consumer abandons (EOF) leaves a
	// resumable session behind.
	if _, _, err := runMain(t, "", "-i"); err != nil {
		t.Fatalf("attach turn: %v", err)
	}

	stdout, _, err := runMain(t, "", "session", "list")
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	var listed struct {
		Count    int `json:"count"`
		Sessions []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(stdout), &listed); err != nil {
		t.Fatalf("list output is not JSON: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("listed %d sessions, want 1", listed.Count)
	}
	if listed.Sessions[0].Status != "active" {
		t.Errorf("session status %q, want active after EOF", listed.Sessions[0].Status)
	}

	id := listed.Sessions[0].ID
	stdout, _, err = runMain(t, "", "session", "close", "--id", id)
	if err != nil {
		t.Fatalf("session close: %v", err)
	}
	var closed struct {
		Session struct {
			Status string `json:"status"`
		} `json:"session"`
	}
	if err := json.Unmarshal([]byte(stdout), &closed); err != nil {
		t.Fatal(err)
	}
	if closed.Session.Status != "closed" {
		t.Errorf("session status %q, want closed", closed.Session.Status)
	}
}

func TestRootTreeMatchesRegistry(t *testing.T) {
	projectDir(t)
	app, err := NewApp(&Globals{}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	root := app.Root()
	leaves := 0
	for _, group := range root.Subcommands {
		if group.Name == "version" {
			continue
		}
		for _, leaf := range group.Subcommands {
			leaves++
			id := group.Name + "." + leaf.Name
			if _, ok := app.Registry.Lookup(id); !ok {
				t.Errorf("command %s %s has no registered action", group.Name, leaf.Name)
			}
		}
	}
	if leaves != len(app.Registry.Actions()) {
		t.Errorf("tree exposes %d actions, registry has %d", leaves, len(app.Registry.Actions()))
	}
}

func TestParseGlobalsNonInterspersed(t *testing.T) {
	globals, rest, err := ParseGlobals([]string{"--agent", "dns", "list", "--domain", "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !globals.Agent {
		t.Error("agent flag not parsed")
	}
	want := []string{"dns", "list", "--domain", "example.com"}
	if len(rest) != len(want) {
		t.Fatalf("rest = %v, want %v", rest, want)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Fatalf("rest = %v, want %v", rest, want)
		}
	}
}
