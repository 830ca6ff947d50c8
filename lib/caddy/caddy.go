// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package caddy manages reverse-proxy blocks in a remote Caddyfile
// over SSH. Blocks are appended with a quoted heredoc so the config
// text passes through the remote shell untouched, then checked with
// `caddy validate`. Reloading is a separate, operator-confirmed step;
// Add and AddLB never restart anything.
package caddy

import (
	"context"
	"fmt"
	"strings"

	"github.com/pebbleworks/cf/lib/pebble"
	"github.com/pebbleworks/cf/lib/sshexec"
)

// Manager issues Caddy operations against managed servers.
type Manager struct {
	runner    sshexec.Runner
	caddyfile string
}

// NewManager returns a Manager appending to caddyfile on each server.
func NewManager(runner sshexec.Runner, caddyfile string) *Manager {
	return &Manager{runner: runner, caddyfile: caddyfile}
}

// AddResult reports a single-upstream proxy block that was appended.
type AddResult struct {
	Success  bool   `json:"success"`
	Server   string `json:"server"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Message  string `json:"message"`
}

// AddLBResult reports a load-balanced proxy block that was appended.
type AddLBResult struct {
	Success   bool     `json:"success"`
	Server    string   `json:"server"`
	Domain    string   `json:"domain"`
	Upstreams []string `json:"upstreams"`
	HealthURI string   `json:"health_uri"`
	Message   string   `json:"message"`
}

// ValidateResult reports whether the remote Caddyfile parses. An
// invalid config is a result, not an error: the caller asked a
// question and got an answer.
type ValidateResult struct {
	Success bool   `json:"success"`
	Valid   bool   `json:"valid"`
	Server  string `json:"server"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReloadResult reports a successful config reload.
type ReloadResult struct {
	Success bool   `json:"success"`
	Server  string `json:"server"`
	Message string `json:"message"`
}

// RenderBlock renders a single-upstream reverse proxy site block.
func RenderBlock(domain, upstream string) string {
	return fmt.Sprintf("%s {\n    reverse_proxy %s\n}", domain, upstream)
}

// RenderLBBlock renders a round-robin load-balanced site block with
// active health checking against healthURI every 30 seconds.
func RenderLBBlock(domain string, upstreams []string, healthURI string) string {
	return fmt.Sprintf(`%s {
    reverse_proxy %s {
        lb_policy round_robin
        health_uri %s
        health_interval 30s
    }
}`, domain, strings.Join(upstreams, " "), healthURI)
}

// Add appends a reverse proxy block for domain and validates the
// resulting Caddyfile. The new block is live only after Reload.
func (m *Manager) Add(ctx context.Context, server, domain, upstream string) (AddResult, error) {
	if err := m.append(ctx, server, RenderBlock(domain, upstream)); err != nil {
		return AddResult{}, err
	}
	if err := m.checkConfig(ctx, server, domain, "caddy.add"); err != nil {
		return AddResult{}, err
	}
	return AddResult{
		Success:  true,
		Server:   server,
		Domain:   domain,
		Upstream: upstream,
		Message:  "Configuration added. Run 'cf caddy reload' to apply.",
	}, nil
}

// AddLB appends a load-balanced reverse proxy block and validates the
// resulting Caddyfile.
func (m *Manager) AddLB(ctx context.Context, server, domain string, upstreams []string, healthURI string) (AddLBResult, error) {
	if err := m.append(ctx, server, RenderLBBlock(domain, upstreams, healthURI)); err != nil {
		return AddLBResult{}, err
	}
	if err := m.checkConfig(ctx, server, domain, "caddy.add-lb"); err != nil {
		return AddLBResult{}, err
	}
	return AddLBResult{
		Success:   true,
		Server:    server,
		Domain:    domain,
		Upstreams: upstreams,
		HealthURI: healthURI,
		Message:   "Load balancer configured. Run 'cf caddy reload' to apply.",
	}, nil
}

// Validate checks whether the remote Caddyfile parses.
func (m *Manager) Validate(ctx context.Context, server string) (ValidateResult, error) {
	out, err := m.runner.Run(ctx, server, m.validateCommand())
	if err != nil {
		return ValidateResult{}, err
	}
	if out.ExitCode != 0 {
		return ValidateResult{
			Success: true,
			Valid:   false,
			Server:  server,
			Error:   strings.TrimSpace(out.Stderr),
		}, nil
	}
	return ValidateResult{
		Success: true,
		Valid:   true,
		Server:  server,
		Output:  strings.TrimSpace(out.Stdout),
	}, nil
}

// Reload asks systemd to reload Caddy, applying appended blocks.
func (m *Manager) Reload(ctx context.Context, server string) (ReloadResult, error) {
	out, err := m.runner.Run(ctx, server, "systemctl reload caddy")
	if err != nil {
		return ReloadResult{}, err
	}
	if out.ExitCode != 0 {
		return ReloadResult{}, pebble.Ext("CADDY_RELOAD_FAILED",
			fmt.Sprintf("reloading Caddy failed: %s", strings.TrimSpace(out.Stderr))).
			WithDetails(map[string]any{"server": server}).
			WithFix("run 'cf caddy validate' to check the config, then 'journalctl -u caddy' on the server")
	}
	return ReloadResult{
		Success: true,
		Server:  server,
		Message: "Caddy reloaded successfully",
	}, nil
}

// append writes a site block onto the end of the remote Caddyfile.
// The quoted heredoc delimiter keeps the shell from expanding
// anything inside the block.
func (m *Manager) append(ctx context.Context, server, block string) error {
	command := fmt.Sprintf("cat >> %s << 'EOF'\n%s\nEOF", m.caddyfile, block)
	out, err := m.runner.Run(ctx, server, command)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return pebble.Net("SSH_FAILED",
			fmt.Sprintf("appending to %s failed: %s", m.caddyfile, strings.TrimSpace(out.Stderr))).
			WithDetails(map[string]any{"server": server})
	}
	return nil
}

// checkConfig validates the Caddyfile after a mutation. Unlike
// Validate, a parse failure here is an error: the append left the
// file in a state the operator needs to fix.
func (m *Manager) checkConfig(ctx context.Context, server, domain, op string) error {
	out, err := m.runner.Run(ctx, server, m.validateCommand())
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return pebble.Ext("CADDY_INVALID",
			fmt.Sprintf("Caddy config validation failed: %s", strings.TrimSpace(out.Stderr))).
			WithOp(op).
			WithDetails(map[string]any{"server": server, "domain": domain}).
			WithFix(fmt.Sprintf("inspect the appended block at the end of %s on the server", m.caddyfile))
	}
	return nil
}

func (m *Manager) validateCommand() string {
	return "caddy validate --config " + m.caddyfile
}
