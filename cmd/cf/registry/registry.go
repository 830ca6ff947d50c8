// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry registers the registry.* actions over the
// project's registry.json inventory.
package registry

import (
	"context"
	"time"

	"github.com/pebbleworks/cf/lib/dispatch"
	registrylib "github.com/pebbleworks/cf/lib/registry"
)

type addParams struct {
	Domain string `flag:"domain,d" desc:"Domain name" required:"true"`
	Name   string `flag:"name,n" desc:"Subdomain name" required:"true"`
	IP     string `flag:"ip,i" desc:"IP address" required:"true"`
	Desc   string `flag:"desc" desc:"Record description"`
}

type validateResult struct {
	Success bool     `json:"success"`
	Valid   bool     `json:"valid"`
	Domains int      `json:"domains"`
	Records int      `json:"records"`
	Servers int      `json:"servers"`
	Issues  []string `json:"issues"`
}

type addResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Desc    string `json:"desc"`
	Path    string `json:"path"`
}

type statsResult struct {
	Success      bool                          `json:"success"`
	Version      string                        `json:"version"`
	Updated      string                        `json:"updated"`
	Domains      []registrylib.DomainStats     `json:"domains"`
	Servers      map[string]registrylib.Server `json:"servers"`
	TotalRecords int                           `json:"total_records"`
	TotalServers int                           `json:"total_servers"`
}

// Actions returns the registry action set operating on the file at
// path. now supplies the stamp for the registry's updated field; nil
// means the wall clock.
func Actions(path string, now func() time.Time) []*dispatch.Action {
	if now == nil {
		now = time.Now
	}
	return []*dispatch.Action{
		{
			ID:      "registry.validate",
			Summary: "Validate registry.json",
			Run: func(_ context.Context, tk *dispatch.Toolkit, _ any, _ []string) (any, error) {
				tk.Infof("Validating registry.json")
				reg, err := registrylib.Load(path)
				if err != nil {
					return nil, err
				}
				issues := reg.Validate()
				messages := make([]string, len(issues))
				for i, issue := range issues {
					messages[i] = issue.Message
				}
				return validateResult{
					Success: true,
					Valid:   len(issues) == 0,
					Domains: len(reg.Domains),
					Records: reg.RecordCount(),
					Servers: len(reg.Servers),
					Issues:  messages,
				}, nil
			},
		},
		{
			ID:      "registry.add",
			Summary: "Add record to registry.json",
			Params:  func() any { return &addParams{} },
			Run: func(_ context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*addParams)
				tk.Infof("Adding to registry: %s.%s -> %s", p.Name, p.Domain, p.IP)
				reg, err := registrylib.Load(path)
				if err != nil {
					return nil, err
				}
				if err := reg.AddA(p.Domain, p.Name, p.IP, p.Desc, now()); err != nil {
					return nil, err
				}
				if err := registrylib.Save(path, reg); err != nil {
					return nil, err
				}
				return addResult{
					Success: true,
					Domain:  p.Domain,
					Name:    p.Name,
					IP:      p.IP,
					Desc:    p.Desc,
					Path:    path,
				}, nil
			},
		},
		{
			ID:      "registry.stats",
			Summary: "Show registry statistics",
			Run: func(_ context.Context, tk *dispatch.Toolkit, _ any, _ []string) (any, error) {
				tk.Infof("Computing registry statistics")
				reg, err := registrylib.Load(path)
				if err != nil {
					return nil, err
				}
				stats := reg.Stats()
				return statsResult{
					Success:      true,
					Version:      reg.Version,
					Updated:      reg.Updated,
					Domains:      stats,
					Servers:      reg.Servers,
					TotalRecords: reg.RecordCount(),
					TotalServers: len(reg.Servers),
				}, nil
			},
		},
	}
}
