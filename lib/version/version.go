// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of the cf binary.
//
// Release builds stamp the variables through -ldflags:
//
//	go build -ldflags "\
//	  -X github.com/pebbleworks/cf/lib/version.Version=0.2.0 \
//	  -X github.com/pebbleworks/cf/lib/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/pebbleworks/cf/lib/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Stamped at build time. Development builds keep the defaults.
var (
	// Version is the semantic release version.
	Version = "0.1.0-dev"

	// Commit is the short git SHA the binary was built from. Release
	// tooling appends "+dirty" when the tree had uncommitted changes.
	Commit = "unknown"

	// Date is the UTC build timestamp.
	Date = "unknown"
)

// Short returns the bare version number, as embedded in the tool
// manifest and the agent ready event.
func Short() string {
	return Version
}

// Full returns the multi-line description printed by "cf version".
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", Version, Commit)
	fmt.Fprintf(&b, "  built:    %s\n", Date)
	fmt.Fprintf(&b, "  go:       %s\n", runtime.Version())
	fmt.Fprintf(&b, "  platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	return b.String()
}
