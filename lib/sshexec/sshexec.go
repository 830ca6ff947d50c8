// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pebbleworks/cf/lib/config"
	"github.com/pebbleworks/cf/lib/pebble"
)

// Output is the captured result of one remote command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a shell command on a remote host.
type Runner interface {
	Run(ctx context.Context, host, command string) (Output, error)
}

// Client is the SSH-backed Runner. It dials per call; the commands
// this tool issues are one-shot and infrequent enough that connection
// reuse is not worth the lifecycle management.
type Client struct {
	cfg config.SSHConfig
}

// NewClient returns a Runner using the given SSH settings.
func NewClient(cfg config.SSHConfig) *Client {
	return &Client{cfg: cfg}
}

// Run executes command on host and captures its output. Transport
// failures (unreachable host, rejected key, broken connection) are
// net/SSH_FAILED errors; a command that merely exits non-zero is a
// successful Run with that exit code in the Output.
func (c *Client) Run(ctx context.Context, host, command string) (Output, error) {
	signer, err := c.loadKey()
	if err != nil {
		return Output{}, err
	}

	clientConfig := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Managed servers are provisioned by the same operator who
		// runs this tool; host keys churn with reprovisioning.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Duration(c.cfg.ConnectTimeoutS) * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.cfg.Port))
	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Output{}, sshFailed(host, err)
	}
	sshConn, channels, requests, err := ssh.NewClientConn(tcpConn, addr, clientConfig)
	if err != nil {
		tcpConn.Close()
		return Output{}, sshFailed(host, err)
	}
	client := ssh.NewClient(sshConn, channels, requests)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{}, sshFailed(host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Tearing down the connection unblocks session.Run.
		client.Close()
		<-done
		return Output{}, pebble.Classify(ctx.Err()).WithDetails(map[string]any{"host": host})
	case err := <-done:
		out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
		var exit *ssh.ExitError
		if errors.As(err, &exit) {
			out.ExitCode = exit.ExitStatus()
			return out, nil
		}
		if err != nil {
			return Output{}, sshFailed(host, err)
		}
		return out, nil
	}
}

// loadKey reads the configured private key, falling back to the
// conventional ed25519 then RSA locations under ~/.ssh.
func (c *Client) loadKey() (ssh.Signer, error) {
	candidates := []string{c.cfg.KeyPath}
	if c.cfg.KeyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, pebble.Sys("CONFIG_ERROR", fmt.Sprintf("resolving home directory: %v", err))
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}

	var lastErr error
	for _, path := range candidates {
		raw, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, pebble.Auth("AUTH_FAILED",
				fmt.Sprintf("parsing SSH key %s: %v", path, err)).
				WithFix("if the key is passphrase-protected, load it into ssh-agent and set ssh.key_path to an unencrypted deploy key")
		}
		return signer, nil
	}
	return nil, pebble.Auth("AUTH_FAILED",
		fmt.Sprintf("no usable SSH key (tried %v): %v", candidates, lastErr)).
		WithFix("set ssh.key_path in cf.yaml or create ~/.ssh/id_ed25519")
}

func sshFailed(host string, err error) *pebble.Error {
	return pebble.Net("SSH_FAILED", fmt.Sprintf("ssh %s: %v", host, err)).
		WithDetails(map[string]any{"host": host}).
		WithFix("check the host is reachable and your key is authorized")
}
