// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Registry is the registry.json document.
type Registry struct {
	Version string            `json:"version"`
	Updated string            `json:"updated"`
	Domains map[string]Domain `json:"domains"`
	Servers map[string]Server `json:"servers"`
	Tunnels map[string]string `json:"tunnels,omitempty"`
}

// Server is one managed machine.
type Server struct {
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
}

// Domain is one managed zone and its intended records.
type Domain struct {
	ZoneID  string   `json:"zone_id"`
	Records []Record `json:"records"`
}

// Record is one intended DNS record. Records with type "comment" are
// annotations for human readers and are skipped by validation and
// statistics.
type Record struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Desc    string `json:"desc,omitempty"`
}

// Load reads and parses the registry file. Comments and trailing
// commas are tolerated on read.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pebble.Input("NOT_FOUND", fmt.Sprintf("registry file not found: %s", path))
		}
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("reading %s: %v", path, err))
	}

	var reg Registry
	if err := json.Unmarshal(jsonc.ToJSON(raw), &reg); err != nil {
		return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("parsing %s: %v", path, err))
	}
	return &reg, nil
}

// Save writes the registry atomically: full content to a temp file in
// the same directory, then rename. A reader never observes a partial
// document.
func Save(path string, reg *Registry) error {
	content, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return pebble.Sys("WRITE_FAIL", fmt.Sprintf("encoding registry: %v", err))
	}
	content = append(content, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*.tmp")
	if err != nil {
		return pebble.Sys("WRITE_FAIL", fmt.Sprintf("creating temp file: %v", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return pebble.Sys("WRITE_FAIL", fmt.Sprintf("writing %s: %v", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return pebble.Sys("WRITE_FAIL", fmt.Sprintf("closing %s: %v", tmpName, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pebble.Sys("WRITE_FAIL", fmt.Sprintf("replacing %s: %v", path, err))
	}
	return nil
}

// Issue is one validation finding.
type Issue struct {
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

// Validate checks the registry for duplicate record names within each
// domain. Comment records are ignored. Issues are reported in sorted
// domain order so output is stable.
func (r *Registry) Validate() []Issue {
	var issues []Issue
	for _, domain := range sortedKeys(r.Domains) {
		seen := make(map[string]bool)
		for _, record := range r.Domains[domain].Records {
			if record.Type == "comment" {
				continue
			}
			if seen[record.Name] {
				issues = append(issues, Issue{
					Domain:  domain,
					Message: fmt.Sprintf("duplicate record: %s.%s", record.Name, domain),
				})
			}
			seen[record.Name] = true
		}
	}
	return issues
}

// AddA appends an intended A record to a domain and stamps the
// registry's updated date. Unknown domains and duplicate A records
// are input errors; the available domains ride along in the details
// so an agent can correct the call.
func (r *Registry) AddA(domain, name, ip, desc string, now time.Time) error {
	entry, ok := r.Domains[domain]
	if !ok {
		return pebble.Input("NOT_FOUND", fmt.Sprintf("domain not found in registry: %s", domain)).
			WithDetails(map[string]any{"available_domains": sortedKeys(r.Domains)})
	}

	for _, record := range entry.Records {
		if record.Type == "A" && record.Name == name {
			return pebble.Input("RECORD_EXISTS", fmt.Sprintf("record already exists: %s.%s", name, domain)).
				WithDetails(map[string]any{"name": name, "domain": domain})
		}
	}

	entry.Records = append(entry.Records, Record{Type: "A", Name: name, Content: ip, Desc: desc})
	r.Domains[domain] = entry
	r.Updated = now.Format("2006-01-02")
	return nil
}

// DomainStats summarizes one domain's records by type.
type DomainStats struct {
	Domain string `json:"domain"`
	Total  int    `json:"total"`
	A      int    `json:"a_records"`
	CNAME  int    `json:"cname_records"`
	Other  int    `json:"other"`
}

// Stats computes per-domain record counts, comment records excluded,
// in sorted domain order.
func (r *Registry) Stats() []DomainStats {
	stats := make([]DomainStats, 0, len(r.Domains))
	for _, domain := range sortedKeys(r.Domains) {
		s := DomainStats{Domain: domain}
		for _, record := range r.Domains[domain].Records {
			switch record.Type {
			case "comment":
				continue
			case "A":
				s.A++
			case "CNAME":
				s.CNAME++
			default:
				s.Other++
			}
			s.Total++
		}
		stats = append(stats, s)
	}
	return stats
}

// RecordCount is the total number of non-comment records.
func (r *Registry) RecordCount() int {
	total := 0
	for _, s := range r.Stats() {
		total += s.Total
	}
	return total
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
