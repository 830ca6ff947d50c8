// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe answers "is it up?" questions about deployed
// services: listening ports and their owning process (via ss over
// SSH), HTTP health endpoints, Docker containers, and PM2 processes.
// Probes report what they find; a service that is down is a result,
// not an error. Errors are reserved for the probe itself failing to
// run.
package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
	"github.com/pebbleworks/cf/lib/sshexec"
)

// bodyPreviewLimit caps how much of a health response body is echoed
// back in the result.
const bodyPreviewLimit = 200

// Prober runs service checks against managed servers.
type Prober struct {
	runner sshexec.Runner
}

// NewProber returns a Prober using runner for remote commands.
func NewProber(runner sshexec.Runner) *Prober {
	return &Prober{runner: runner}
}

// CheckResult reports whether a port is listening and which process
// owns it.
type CheckResult struct {
	Success   bool   `json:"success"`
	Server    string `json:"server"`
	Port      int    `json:"port"`
	Listening bool   `json:"listening"`
	Process   string `json:"process,omitempty"`
}

// HealthResult reports an HTTP health probe. Healthy means the
// endpoint answered with a 2xx or 3xx status.
type HealthResult struct {
	Success        bool   `json:"success"`
	URL            string `json:"url"`
	Healthy        bool   `json:"healthy"`
	Status         int    `json:"status,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	BodyPreview    string `json:"body_preview,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Container is one running Docker container.
type Container struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	Ports  string `json:"ports"`
}

// DockerResult lists the running containers on a server.
type DockerResult struct {
	Success    bool        `json:"success"`
	Server     string      `json:"server"`
	Count      int         `json:"count"`
	Containers []Container `json:"containers"`
}

// Process is a PM2-managed process summary.
type Process struct {
	Name   string  `json:"name"`
	Status string  `json:"status"`
	PID    int64   `json:"pid"`
	Memory int64   `json:"memory"`
	CPU    float64 `json:"cpu"`
}

// PM2Result lists the PM2 processes on a server.
type PM2Result struct {
	Success   bool      `json:"success"`
	Server    string    `json:"server"`
	Count     int       `json:"count"`
	Processes []Process `json:"processes"`
}

// CheckPort reports whether port is listening on server. grep exits
// non-zero on no match, so an empty stdout simply means not
// listening.
func (p *Prober) CheckPort(ctx context.Context, server string, port int) (CheckResult, error) {
	command := fmt.Sprintf("ss -tlnp | grep ':%d'", port)
	out, err := p.runner.Run(ctx, server, command)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{Success: true, Server: server, Port: port}
	if strings.TrimSpace(out.Stdout) == "" {
		return result, nil
	}
	result.Listening = true
	result.Process = extractProcess(out.Stdout)
	return result, nil
}

// extractProcess pulls the process name out of an ss -tlnp line,
// which embeds it as users:(("name",pid=...,fd=...)).
func extractProcess(line string) string {
	_, after, ok := strings.Cut(line, "users:")
	if !ok {
		return "unknown"
	}
	parts := strings.Split(after, `"`)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

// Health probes url with a GET and reports status and latency.
// Certificate verification is disabled: staging hosts routinely run
// self-signed or not-yet-issued certificates, and the question being
// asked is "does it answer", not "is its certificate valid".
func (p *Prober) Health(ctx context.Context, url string, timeout time.Duration) (HealthResult, error) {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResult{}, pebble.Input("INVALID_ARG", fmt.Sprintf("bad health URL: %v", err))
	}

	start := time.Now()
	response, err := client.Do(request)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		record := pebble.Classify(err)
		switch {
		case record.Cat == pebble.CatTime:
			return HealthResult{}, pebble.Timeout("TIMEOUT",
				fmt.Sprintf("Health check timed out after %s", timeout), int(timeout.Seconds())).
				WithDetails(map[string]any{"url": url})
		case record.Code == "CONNECT_FAILED":
			return HealthResult{}, record.WithDetails(map[string]any{"url": url})
		default:
			// The endpoint answered badly rather than not at all
			// (TLS handshake rejection, protocol garbage). That is
			// an unhealthy service, not a failed probe.
			return HealthResult{
				Success:        true,
				URL:            url,
				Healthy:        false,
				Error:          err.Error(),
				ResponseTimeMS: elapsed,
			}, nil
		}
	}
	defer response.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(response.Body, bodyPreviewLimit+1))
	body := string(preview)
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit] + "..."
	}

	return HealthResult{
		Success:        true,
		URL:            url,
		Healthy:        response.StatusCode >= 200 && response.StatusCode < 400,
		Status:         response.StatusCode,
		ResponseTimeMS: elapsed,
		BodyPreview:    body,
	}, nil
}

// DockerPS lists running containers via docker ps with a JSON-lines
// format template. Lines that fail to parse are skipped.
func (p *Prober) DockerPS(ctx context.Context, server string) (DockerResult, error) {
	command := `docker ps --format '{"name":"{{.Names}}","image":"{{.Image}}","status":"{{.Status}}","ports":"{{.Ports}}"}'`
	out, err := p.runner.Run(ctx, server, command)
	if err != nil {
		return DockerResult{}, err
	}

	containers := []Container{}
	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var c Container
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue
		}
		containers = append(containers, c)
	}

	return DockerResult{
		Success:    true,
		Server:     server,
		Count:      len(containers),
		Containers: containers,
	}, nil
}

// pm2Process is the slice of `pm2 jlist` output this tool reads.
type pm2Process struct {
	Name   string `json:"name"`
	PID    int64  `json:"pid"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
	Monit struct {
		Memory int64   `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
}

// PM2List summarizes PM2 processes on server. The remote command
// falls back to an empty list when pm2 is not installed, and so does
// the parse when jlist output is malformed.
func (p *Prober) PM2List(ctx context.Context, server string) (PM2Result, error) {
	out, err := p.runner.Run(ctx, server, "pm2 jlist 2>/dev/null || echo '[]'")
	if err != nil {
		return PM2Result{}, err
	}

	var raw []pm2Process
	if err := json.Unmarshal([]byte(out.Stdout), &raw); err != nil {
		raw = nil
	}

	processes := []Process{}
	for _, proc := range raw {
		summary := Process{
			Name:   proc.Name,
			Status: proc.PM2Env.Status,
			PID:    proc.PID,
			Memory: proc.Monit.Memory,
			CPU:    proc.Monit.CPU,
		}
		if summary.Name == "" {
			summary.Name = "unknown"
		}
		if summary.Status == "" {
			summary.Status = "unknown"
		}
		processes = append(processes, summary)
	}

	return PM2Result{
		Success:   true,
		Server:    server,
		Count:     len(processes),
		Processes: processes,
	}, nil
}
