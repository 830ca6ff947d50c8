// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package service registers the service.* actions: port checks, HTTP
// health probes, and container and process listings.
package service

import (
	"context"
	"time"

	"github.com/pebbleworks/cf/lib/dispatch"
	"github.com/pebbleworks/cf/lib/probe"
)

type checkParams struct {
	Server string `flag:"server,s" desc:"Server IP address" required:"true"`
	Port   int    `flag:"port,p" desc:"Port number" required:"true"`
}

type healthParams struct {
	URL     string `flag:"url,u" desc:"Health check URL" required:"true"`
	Timeout int    `flag:"timeout,t" desc:"Timeout in seconds" default:"10"`
}

type serverParams struct {
	Server string `flag:"server,s" desc:"Server IP address" required:"true"`
}

// Actions returns the service action set.
func Actions(prober *probe.Prober) []*dispatch.Action {
	return []*dispatch.Action{
		{
			ID:      "service.check",
			Summary: "Check if a port is listening",
			Params:  func() any { return &checkParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*checkParams)
				tk.Infof("Checking port %d on %s", p.Port, p.Server)
				return prober.CheckPort(ctx, p.Server, p.Port)
			},
		},
		{
			ID:      "service.health",
			Summary: "Check URL health endpoint",
			Params:  func() any { return &healthParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*healthParams)
				tk.Infof("Health check: %s", p.URL)
				return prober.Health(ctx, p.URL, time.Duration(p.Timeout)*time.Second)
			},
		},
		{
			ID:      "service.docker-ps",
			Summary: "List Docker containers on server",
			Params:  func() any { return &serverParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*serverParams)
				tk.Infof("Listing Docker containers on %s", p.Server)
				return prober.DockerPS(ctx, p.Server)
			},
		},
		{
			ID:      "service.pm2-list",
			Summary: "List PM2 processes on server",
			Params:  func() any { return &serverParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*serverParams)
				tk.Infof("Listing PM2 processes on %s", p.Server)
				return prober.PM2List(ctx, p.Server)
			},
		},
	}
}
