// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"

	"github.com/spf13/pflag"
)

// Globals are the mode-selecting flags parsed at the root before
// group dispatch.
type Globals struct {
	// Agent selects skill mode: NDJSON events on stdout, exit after
	// the first error.
	Agent bool

	// Interactive selects agent mode: session attach, ready event,
	// dialogue over stdin/stdout.
	Interactive bool

	// SessionID attaches to exactly this session.
	SessionID string

	// Resume attaches to the most recently active session.
	Resume bool

	// Export writes the session bundle to this path after the turn.
	Export string

	// Manifest prints the tool manifest and exits.
	Manifest bool

	// Verbose enables debug logging.
	Verbose bool

	// Help requests the root help text.
	Help bool
}

// ParseGlobals splits args into global flags and the residual
// group/action arguments. Parsing is non-interspersed: the first
// non-flag argument ends the global section, so action flags never
// collide with globals.
func ParseGlobals(args []string) (*Globals, []string, error) {
	globals := &Globals{}
	flagSet := pflag.NewFlagSet("cf", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(io.Discard)

	flagSet.BoolVar(&globals.Agent, "agent", false, "Emit NDJSON events for a machine consumer")
	flagSet.BoolVarP(&globals.Interactive, "interactive", "i", false, "Interactive agent mode with session persistence")
	flagSet.StringVar(&globals.SessionID, "session", "", "Attach to the session with this id")
	flagSet.BoolVar(&globals.Resume, "resume", false, "Resume the most recently active session")
	flagSet.StringVar(&globals.Export, "export", "", "Write the session bundle to this path after the turn")
	flagSet.BoolVar(&globals.Manifest, "manifest", false, "Print the tool manifest and exit")
	flagSet.BoolVarP(&globals.Verbose, "verbose", "v", false, "Enable debug logging")
	flagSet.BoolVarP(&globals.Help, "help", "h", false, "Show help")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	return globals, flagSet.Args(), nil
}
