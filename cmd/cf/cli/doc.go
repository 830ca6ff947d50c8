// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command-tree framework for the cf binary:
// nested commands with lazy pflag flag sets, tag-driven flag binding
// from params structs, tabwriter help on stderr, and typo suggestions
// for unknown commands and flags.
//
// The same struct tags that bind flags here drive manifest option
// generation in lib/dispatch, so a flag and its manifest entry cannot
// drift apart.
package cli
