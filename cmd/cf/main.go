// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/pebbleworks/cf/cmd/cf/commands"
)

func main() {
	err := commands.Main(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	// Failures that were already reported on the right stream carry
	// only an exit code; don't print a redundant "error:" line.
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
