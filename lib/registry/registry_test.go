// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

const sampleRegistry = `{
	// Managed infrastructure inventory.
	"version": "1.0",
	"updated": "2026-01-15",
	"domains": {
		"example.com": {
			"zone_id": "zone-a",
			"records": [
				{"type": "comment", "desc": "production cluster"},
				{"type": "A", "name": "www", "content": "203.0.113.1"},
				{"type": "A", "name": "api", "content": "203.0.113.2"},
				{"type": "CNAME", "name": "blog", "content": "www.example.com"},
			],
		},
	},
	"servers": {
		"web1": {"location": "fra", "name": "frankfurt-1"},
	},
}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTolerant(t *testing.T) {
	reg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", reg.Version)
	}
	if len(reg.Domains["example.com"].Records) != 4 {
		t.Errorf("records = %d, want 4", len(reg.Domains["example.com"].Records))
	}
	if reg.Servers["web1"].Location != "fra" {
		t.Errorf("server location = %q, want fra", reg.Servers["web1"].Location)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "registry.json"))
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "PARSE_FAIL" {
		t.Fatalf("expected PARSE_FAIL, got %v", err)
	}
	if record.Cat != pebble.CatInput {
		t.Errorf("cat = %s, want in", record.Cat)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeSample(t)
	reg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, reg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Saved output is plain JSON; loading it again must succeed.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if len(again.Domains) != len(reg.Domains) {
		t.Errorf("domains = %d, want %d", len(again.Domains), len(reg.Domains))
	}
}

func TestValidateFindsDuplicates(t *testing.T) {
	reg := &Registry{Domains: map[string]Domain{
		"example.com": {Records: []Record{
			{Type: "A", Name: "www", Content: "203.0.113.1"},
			{Type: "A", Name: "www", Content: "203.0.113.9"},
			{Type: "comment", Desc: "dup below is intentional? no"},
		}},
	}}
	issues := reg.Validate()
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
	if issues[0].Domain != "example.com" {
		t.Errorf("issue domain = %q", issues[0].Domain)
	}
}

func TestValidateCleanRegistry(t *testing.T) {
	reg, err := Load(writeSample(t))
	if err != nil {
		t.Fatal(err)
	}
	if issues := reg.Validate(); len(issues) != 0 {
		t.Errorf("issues = %v, want none", issues)
	}
}

func TestAddA(t *testing.T) {
	reg, err := Load(writeSample(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := reg.AddA("example.com", "staging", "203.0.113.7", "staging box", now); err != nil {
		t.Fatalf("AddA: %v", err)
	}
	if reg.Updated != "2026-08-29" {
		t.Errorf("Updated = %q, want 2026-08-29", reg.Updated)
	}
	records := reg.Domains["example.com"].Records
	last := records[len(records)-1]
	if last.Type != "A" || last.Name != "staging" || last.Content != "203.0.113.7" {
		t.Errorf("appended record = %+v", last)
	}
}

func TestAddAUnknownDomain(t *testing.T) {
	reg, _ := Load(writeSample(t))
	err := reg.AddA("missing.net", "www", "203.0.113.1", "", time.Now())
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	domains, ok := record.Details["available_domains"].([]string)
	if !ok || len(domains) != 1 || domains[0] != "example.com" {
		t.Errorf("available_domains = %v", record.Details["available_domains"])
	}
}

func TestAddADuplicate(t *testing.T) {
	reg, _ := Load(writeSample(t))
	err := reg.AddA("example.com", "www", "203.0.113.1", "", time.Now())
	var record *pebble.Error
	if !errors.As(err, &record) || record.Code != "RECORD_EXISTS" {
		t.Fatalf("expected RECORD_EXISTS, got %v", err)
	}
	if record.Cat != pebble.CatInput {
		t.Errorf("cat = %s, want in", record.Cat)
	}
}

func TestStats(t *testing.T) {
	reg, _ := Load(writeSample(t))
	stats := reg.Stats()
	if len(stats) != 1 {
		t.Fatalf("stats = %d domains, want 1", len(stats))
	}
	s := stats[0]
	if s.Total != 3 || s.A != 2 || s.CNAME != 1 || s.Other != 0 {
		t.Errorf("stats = %+v", s)
	}
	if reg.RecordCount() != 3 {
		t.Errorf("RecordCount = %d, want 3", reg.RecordCount())
	}
}
