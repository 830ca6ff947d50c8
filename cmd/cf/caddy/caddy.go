// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package caddy registers the caddy.* actions: reverse-proxy blocks
// in a remote Caddyfile, validation, and reload.
package caddy

import (
	"context"
	"strings"

	caddylib "github.com/pebbleworks/cf/lib/caddy"
	"github.com/pebbleworks/cf/lib/dispatch"
	"github.com/pebbleworks/cf/lib/pebble"
)

type addParams struct {
	Server   string `flag:"server,s" desc:"Server IP address" required:"true"`
	Domain   string `flag:"domain,d" desc:"Domain name (FQDN)" required:"true"`
	Upstream string `flag:"upstream,u" desc:"Upstream address (e.g. localhost:3001)" required:"true"`
}

type addLBParams struct {
	Server    string `flag:"server,s" desc:"Server IP address" required:"true"`
	Domain    string `flag:"domain,d" desc:"Domain name (FQDN)" required:"true"`
	Upstreams string `flag:"upstreams,u" desc:"Comma-separated upstream addresses" required:"true"`
	HealthURI string `flag:"health-uri" desc:"Health check URI" default:"/health"`
}

type serverParams struct {
	Server string `flag:"server,s" desc:"Server IP address" required:"true"`
}

// Actions returns the caddy action set.
func Actions(manager *caddylib.Manager) []*dispatch.Action {
	return []*dispatch.Action{
		{
			ID:      "caddy.add",
			Summary: "Add reverse proxy configuration",
			Params:  func() any { return &addParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*addParams)
				tk.Infof("Adding Caddy reverse proxy: %s -> %s", p.Domain, p.Upstream)
				result, err := manager.Add(ctx, p.Server, p.Domain, p.Upstream)
				if err != nil {
					return nil, err
				}
				tk.Infof("Caddy configuration added")
				return result, nil
			},
		},
		{
			ID:      "caddy.add-lb",
			Summary: "Add load balancer configuration",
			Params:  func() any { return &addLBParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*addLBParams)
				upstreams := splitUpstreams(p.Upstreams)
				tk.Infof("Adding Caddy load balancer: %s -> %v", p.Domain, upstreams)
				result, err := manager.AddLB(ctx, p.Server, p.Domain, upstreams, p.HealthURI)
				if err != nil {
					return nil, err
				}
				tk.Infof("Load balancer configuration added")
				return result, nil
			},
		},
		{
			ID:      "caddy.validate",
			Summary: "Validate Caddy configuration",
			Params:  func() any { return &serverParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*serverParams)
				tk.Infof("Validating Caddy config on %s", p.Server)
				return manager.Validate(ctx, p.Server)
			},
		},
		{
			ID:      "caddy.reload",
			Summary: "Reload Caddy configuration",
			Params:  func() any { return &serverParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*serverParams)
				if err := tk.Guard(ctx, "caddy.reload", pebble.RiskHigh, p.Server); err != nil {
					return nil, err
				}
				tk.Infof("Reloading Caddy on %s", p.Server)
				return manager.Reload(ctx, p.Server)
			},
		},
	}
}

func splitUpstreams(raw string) []string {
	parts := strings.Split(raw, ",")
	upstreams := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			upstreams = append(upstreams, trimmed)
		}
	}
	return upstreams
}
