// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes parsed command invocations to registered
// actions and adapts their execution to the three output modes.
//
// An [Action] binds an id like "dns.create" to a params struct and a
// Run function. Actions register into a [Registry], which is the
// single source of truth for the manifest: [BuildManifest] derives
// the action and option specs from the registry by reflection over
// the same struct tags the CLI binds flags from, and
// [ValidateManifest] cross-checks the two in both directions.
//
// Execution is mode-shaped. [Human] prints diagnostics to stderr and
// the result as indented JSON on stdout. [Skill] emits the NDJSON
// event stream and exits after the first error with the mapped code.
// [Agent] attaches a session, emits ready, tees every event through
// the hash-chained transcript, and serves the consumer's input stream
// so operations can suspend on ask and confirm exchanges.
package dispatch
