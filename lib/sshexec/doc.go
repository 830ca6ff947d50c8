// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshexec runs shell commands on managed servers over SSH.
//
// The [Runner] interface is the seam between the remote-operation
// packages (caddy, probe) and the transport: production code uses
// [Client], tests substitute an in-memory fake. A command exiting
// non-zero is not an error here; callers inspect [Output.ExitCode]
// because some non-zero exits are legitimate results (a Caddyfile
// failing validation, a service that is not listening). Only
// transport problems surface as errors.
package sshexec
