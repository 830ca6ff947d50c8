// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package dns registers the dns.* actions: live DNS record
// management against the Cloudflare API.
package dns

import (
	"context"
	"errors"

	"github.com/pebbleworks/cf/lib/cloudflare"
	"github.com/pebbleworks/cf/lib/config"
	"github.com/pebbleworks/cf/lib/dispatch"
	"github.com/pebbleworks/cf/lib/pebble"
)

// Deps wires the action implementations to their collaborators.
type Deps struct {
	// Client resolves a domain to an API client. Nil means
	// credentials from the environment ([EnvClient]).
	Client func(domain string) (*cloudflare.Client, error)
}

// EnvClient builds a Cloudflare client from the per-domain
// CLOUDFLARE_<SLUG>_* environment variables.
func EnvClient(domain string) (*cloudflare.Client, error) {
	zoneID, token, err := config.CloudflareCredentials(domain)
	if err != nil {
		return nil, err
	}
	return cloudflare.NewClient(zoneID, token), nil
}

type listParams struct {
	Domain string `flag:"domain,d" desc:"Domain name (e.g. example.com)" required:"true"`
}

type getParams struct {
	Domain string `flag:"domain,d" desc:"Domain name" required:"true"`
	Name   string `flag:"name,n" desc:"Subdomain name (without domain suffix)" required:"true"`
}

type createParams struct {
	Domain  string `flag:"domain,d" desc:"Domain name" required:"true"`
	Name    string `flag:"name,n" desc:"Subdomain name" required:"true"`
	IP      string `flag:"ip,i" desc:"IP address" required:"true"`
	Desc    string `flag:"desc" desc:"Record description"`
	Proxied bool   `flag:"proxied" desc:"Enable the Cloudflare proxy (orange cloud)"`
}

type deleteParams struct {
	Domain string `flag:"domain,d" desc:"Domain name" required:"true"`
	Name   string `flag:"name,n" desc:"Subdomain name" required:"true"`
}

// recordView is the record shape the dns results expose.
type recordView struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

func viewOf(r cloudflare.Record) recordView {
	return recordView{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, Proxied: r.Proxied}
}

type listResult struct {
	Success bool         `json:"success"`
	Domain  string       `json:"domain"`
	Count   int          `json:"count"`
	Records []recordView `json:"records"`
}

type getResult struct {
	Success bool        `json:"success"`
	Exists  bool        `json:"exists"`
	FQDN    string      `json:"fqdn"`
	Record  *recordView `json:"record,omitempty"`
}

type createResult struct {
	Success  bool   `json:"success"`
	RecordID string `json:"record_id"`
	FQDN     string `json:"fqdn"`
	IP       string `json:"ip"`
	Proxied  bool   `json:"proxied"`
}

type deleteResult struct {
	Success  bool   `json:"success"`
	Deleted  bool   `json:"deleted"`
	FQDN     string `json:"fqdn"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Actions returns the dns action set.
func Actions(deps Deps) []*dispatch.Action {
	client := deps.Client
	if client == nil {
		client = EnvClient
	}

	return []*dispatch.Action{
		{
			ID:      "dns.list",
			Summary: "List all DNS records for a domain",
			Params:  func() any { return &listParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*listParams)
				cf, err := client(p.Domain)
				if err != nil {
					return nil, err
				}
				tk.Infof("Fetching DNS records for %s", p.Domain)
				records, err := cf.ListRecords(ctx)
				if err != nil {
					return nil, err
				}
				views := make([]recordView, len(records))
				for i, r := range records {
					views[i] = viewOf(r)
				}
				return listResult{Success: true, Domain: p.Domain, Count: len(views), Records: views}, nil
			},
		},
		{
			ID:      "dns.get",
			Summary: "Get a specific DNS record",
			Params:  func() any { return &getParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*getParams)
				cf, err := client(p.Domain)
				if err != nil {
					return nil, err
				}
				fqdn := cloudflare.FQDN(p.Name, p.Domain)
				tk.Infof("Looking up DNS record: %s", fqdn)
				records, err := cf.FindByName(ctx, fqdn)
				if err != nil {
					return nil, err
				}
				if len(records) == 0 {
					return getResult{Success: true, Exists: false, FQDN: fqdn}, nil
				}
				view := viewOf(records[0])
				return getResult{Success: true, Exists: true, FQDN: fqdn, Record: &view}, nil
			},
		},
		{
			ID:      "dns.create",
			Summary: "Create a new DNS A record",
			Params:  func() any { return &createParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*createParams)
				cf, err := client(p.Domain)
				if err != nil {
					return nil, err
				}
				fqdn := cloudflare.FQDN(p.Name, p.Domain)
				tk.Infof("Creating DNS A record: %s -> %s", fqdn, p.IP)
				record, err := cf.CreateA(ctx, p.Name, p.IP, p.Desc, p.Proxied)
				if err != nil {
					var apiErr *pebble.Error
					if errors.As(err, &apiErr) && apiErr.Code == "RECORD_EXISTS" {
						return nil, apiErr.WithDetails(map[string]any{"fqdn": fqdn, "ip": p.IP})
					}
					return nil, err
				}
				return createResult{
					Success:  true,
					RecordID: record.ID,
					FQDN:     fqdn,
					IP:       p.IP,
					Proxied:  p.Proxied,
				}, nil
			},
		},
		{
			ID:      "dns.delete",
			Summary: "Delete a DNS record",
			Params:  func() any { return &deleteParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*deleteParams)
				cf, err := client(p.Domain)
				if err != nil {
					return nil, err
				}
				fqdn := cloudflare.FQDN(p.Name, p.Domain)
				if err := tk.Guard(ctx, "dns.delete", pebble.RiskHigh, fqdn); err != nil {
					return nil, err
				}
				tk.Infof("Deleting DNS record: %s", fqdn)
				records, err := cf.FindByName(ctx, fqdn)
				if err != nil {
					return nil, err
				}
				if len(records) == 0 {
					return deleteResult{Success: true, Deleted: false, FQDN: fqdn, Message: "Record not found"}, nil
				}
				recordID := records[0].ID
				if err := cf.DeleteRecord(ctx, recordID); err != nil {
					return nil, err
				}
				return deleteResult{Success: true, Deleted: true, FQDN: fqdn, RecordID: recordID}, nil
			},
		},
	}
}
