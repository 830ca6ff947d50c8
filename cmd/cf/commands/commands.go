// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete cf command tree and wires the
// three execution modes (human, skill, agent) over the shared action
// registry. The CLI binary is a thin shell around this package.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	caddycmd "github.com/pebbleworks/cf/cmd/cf/caddy"
	"github.com/pebbleworks/cf/cmd/cf/cli"
	dnscmd "github.com/pebbleworks/cf/cmd/cf/dns"
	r2cmd "github.com/pebbleworks/cf/cmd/cf/r2"
	registrycmd "github.com/pebbleworks/cf/cmd/cf/registry"
	servicecmd "github.com/pebbleworks/cf/cmd/cf/service"
	sessioncmd "github.com/pebbleworks/cf/cmd/cf/session"
	caddylib "github.com/pebbleworks/cf/lib/caddy"
	"github.com/pebbleworks/cf/lib/config"
	"github.com/pebbleworks/cf/lib/dispatch"
	"github.com/pebbleworks/cf/lib/pebble"
	"github.com/pebbleworks/cf/lib/probe"
	"github.com/pebbleworks/cf/lib/session"
	"github.com/pebbleworks/cf/lib/sshexec"
	"github.com/pebbleworks/cf/lib/version"
)

// toolName is the identity the manifest and ready events carry.
const toolName = "cf"

// App is one configured invocation: the resolved config, the action
// registry, and the streams the selected mode talks over.
type App struct {
	Config   *config.Config
	Registry *dispatch.Registry
	Globals  *Globals
	Logger   *slog.Logger
	Sessions *session.Manager

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	store session.Store
}

// NewApp loads configuration, opens the session store, and registers
// every action. The manifest is validated against the registry here so
// drift is a boot failure.
func NewApp(globals *Globals, stdin io.Reader, stdout, stderr io.Writer) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := session.OpenStore(cfg.Session.Store, cfg.SessionsDir())
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(session.ManagerConfig{
		Store:       store,
		IdleTimeout: time.Duration(cfg.Session.IdleTimeoutS) * time.Second,
	})

	runner := sshexec.NewClient(cfg.SSH)
	registry := dispatch.NewRegistry()
	for _, actions := range [][]*dispatch.Action{
		dnscmd.Actions(dnscmd.Deps{}),
		caddycmd.Actions(caddylib.NewManager(runner, cfg.Caddy.Caddyfile)),
		servicecmd.Actions(probe.NewProber(runner)),
		registrycmd.Actions(cfg.RegistryPath(), nil),
		r2cmd.Actions(nil),
		sessioncmd.Actions(sessions, toolName),
	} {
		for _, action := range actions {
			registry.MustRegister(action)
		}
	}

	app := &App{
		Config:   cfg,
		Registry: registry,
		Globals:  globals,
		Logger:   cli.NewLogger(globals.Verbose),
		Sessions: sessions,
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		store:    store,
	}

	manifest, err := app.Manifest()
	if err != nil {
		return nil, err
	}
	if err := dispatch.ValidateManifest(manifest, registry); err != nil {
		store.Close()
		return nil, pebble.Sys("INTERNAL", fmt.Sprintf("manifest validation: %v", err))
	}
	return app, nil
}

// Close releases the session store backend.
func (app *App) Close() error {
	return app.store.Close()
}

// Manifest builds the capability document for this build.
func (app *App) Manifest() (*pebble.Manifest, error) {
	return dispatch.BuildManifest(app.Registry, dispatch.ToolInfo{
		Identity: pebble.ToolIdentity{
			Name:        toolName,
			DisplayName: "Cloudflare Infrastructure CLI",
			Version:     version.Short(),
			Description: "Manage Cloudflare DNS, R2 storage, Caddy configuration, and service health.",
			Homepage:    "https://github.com/pebbleworks/cf",
		},
		Permissions: pebble.Permissions{
			Network:        true,
			NetworkDomains: []string{"api.cloudflare.com", "*.r2.cloudflarestorage.com"},
			Filesystem: pebble.FilesystemPermissions{
				Read:  []string{"$CF_PROJECT_DIR"},
				Write: []string{"$CF_PROJECT_DIR/registry.json", "$CF_PROJECT_DIR/sessions"},
			},
			EnvVars: []string{
				"CF_PROJECT_DIR",
				"CLOUDFLARE_<DOMAIN>_ZONE_ID",
				"CLOUDFLARE_<DOMAIN>_API_TOKEN",
				"CLOUDFLARE_R2_BUCKET_NAME",
				"CLOUDFLARE_R2_S3_API_URL",
				"CLOUDFLARE_R2_ACCESS_KEY_ID",
				"CLOUDFLARE_R2_SECRET_ACCESS_KEY",
				"CLOUDFLARE_R2_PUBLIC_URL",
				"CLOUDFLARE_R2_FOLDER_PREFIX",
			},
		},
		Limits: pebble.Limits{
			DefaultTimeoutS: app.Config.Limits.DefaultTimeoutS,
			MaxOutputMB:     app.Config.Limits.MaxOutputMB,
		},
	})
}

// Main is the full invocation: global flag parsing, mode selection,
// and group dispatch. The returned error is nil or carries an exit
// code via the ExitCode interface.
func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	globals, rest, err := ParseGlobals(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			globals = &Globals{Help: true}
			rest = nil
		} else {
			fmt.Fprintf(stderr, "%v\n\nRun 'cf --help' for usage.\n", err)
			return &dispatch.ExitError{Code: 1}
		}
	}

	app, err := NewApp(globals, stdin, stdout, stderr)
	if err != nil {
		return reportStartupError(globals, stdout, stderr, err)
	}
	defer app.Close()

	if globals.Manifest {
		return app.printManifest()
	}
	if globals.Help && len(rest) == 0 {
		app.Root().PrintHelp(stderr)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if globals.Interactive && len(rest) == 0 {
		return app.serve(ctx, nil)
	}
	if err := app.Root().Execute(rest); err != nil {
		if _, ok := err.(interface{ ExitCode() int }); ok {
			return err
		}
		fmt.Fprintf(stderr, "%v\n", err)
		return &dispatch.ExitError{Code: 1}
	}
	return nil
}

// reportStartupError reports a failure that happened before any
// executor could run, in the shape the selected mode expects.
func reportStartupError(globals *Globals, stdout, stderr io.Writer, err error) error {
	record := pebble.Classify(err)
	if globals != nil && (globals.Agent || globals.Interactive) {
		stream := pebble.NewStreamWriter(stdout)
		if emitErr := stream.Emit(pebble.TypeError, record); emitErr != nil {
			fmt.Fprintf(stderr, "Error [%s][%s]: %s\n", record.Cat, record.Code, record.Message)
		}
	} else {
		fmt.Fprintf(stderr, "Error [%s][%s]: %s\n", record.Cat, record.Code, record.Message)
		for _, hint := range record.Fix {
			fmt.Fprintf(stderr, "  fix: %s\n", hint)
		}
	}
	return &dispatch.ExitError{Code: record.ExitCode()}
}

func (app *App) printManifest() error {
	manifest, err := app.Manifest()
	if err != nil {
		return reportStartupError(app.Globals, app.Stdout, app.Stderr, err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return reportStartupError(app.Globals, app.Stdout, app.Stderr, err)
	}
	fmt.Fprintln(app.Stdout, string(data))
	return nil
}

// Root builds the complete command tree from the registry.
func (app *App) Root() *cli.Command {
	root := &cli.Command{
		Name: "cf",
		Description: `cf: Cloudflare infrastructure CLI.

Manage DNS records, R2 object storage, Caddy reverse-proxy
configuration, and service health across Cloudflare-fronted servers.`,
		Usage: "cf [--agent | -i] [global flags] <group> <action> [flags]",
		Subcommands: []*cli.Command{
			app.group("dns", "Manage Cloudflare DNS records"),
			app.group("caddy", "Manage Caddy reverse-proxy configuration"),
			app.group("service", "Check service health on managed servers"),
			app.group("registry", "Manage the local domain registry"),
			app.group("r2", "Manage R2 object storage"),
			app.group("session", "Manage stored agent sessions"),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ []string) error {
					fmt.Fprintf(app.Stdout, "cf %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List DNS records for a domain",
				Command:     "cf dns list --domain example.com",
			},
			{
				Description: "Create an A record as NDJSON events",
				Command:     "cf --agent dns create -d example.com -n www --ip 203.0.113.7",
			},
			{
				Description: "Add a reverse-proxy block and reload Caddy",
				Command:     "cf caddy add --server web1 --domain app.example.com --upstream localhost:3000",
			},
			{
				Description: "Resume the latest agent session interactively",
				Command:     "cf -i --resume",
			},
			{
				Description: "Print the machine-readable capability manifest",
				Command:     "cf --manifest",
			},
		},
	}
	return root
}

// group collects the registry actions sharing an id prefix into one
// subcommand.
func (app *App) group(name, summary string) *cli.Command {
	command := &cli.Command{Name: name, Summary: summary}
	for _, action := range app.Registry.Actions() {
		prefix, leaf, ok := strings.Cut(action.ID, ".")
		if !ok || prefix != name {
			continue
		}
		command.Subcommands = append(command.Subcommands, app.leaf(leaf, action))
	}
	return command
}

// leaf builds the command for one action. The params value is shared
// between the flag set and Run so parsing populates what the action
// receives.
func (app *App) leaf(name string, action *dispatch.Action) *cli.Command {
	var params any
	if action.Params != nil {
		params = action.Params()
	}
	command := &cli.Command{
		Name:    name,
		Summary: action.Summary,
	}
	if params != nil {
		command.Flags = func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, params)
		}
	}
	command.Run = func(args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.dispatch(ctx, dispatch.Invocation{Action: action, Params: params, Args: args})
	}
	return command
}

// dispatch runs one invocation through the executor for the selected
// mode.
func (app *App) dispatch(ctx context.Context, inv dispatch.Invocation) error {
	timeout := time.Duration(app.Config.Limits.DefaultTimeoutS) * time.Second

	switch {
	case app.Globals.Interactive:
		return app.serve(ctx, &inv)

	case app.Globals.Agent:
		skill := &dispatch.Skill{
			Stream:         pebble.NewStreamWriter(app.Stdout),
			Logger:         app.Logger,
			DefaultTimeout: timeout,
		}
		return skill.Run(ctx, inv)

	default:
		human := &dispatch.Human{
			Stdout:         app.Stdout,
			Stderr:         app.Stderr,
			Logger:         app.Logger,
			DefaultTimeout: timeout,
		}
		return human.Run(ctx, inv)
	}
}

// serve runs one agent-mode turn. A nil invocation attaches the
// session and serves the input stream until bye or EOF.
func (app *App) serve(ctx context.Context, inv *dispatch.Invocation) error {
	handle, err := app.attach()
	if err != nil {
		return reportStartupError(app.Globals, app.Stdout, app.Stderr, err)
	}

	agent := &dispatch.Agent{
		Stream:         pebble.NewStreamWriter(app.Stdout),
		Input:          pebble.NewLineReader(app.Stdin),
		Logger:         app.Logger,
		Sessions:       app.Sessions,
		DefaultTimeout: time.Duration(app.Config.Limits.DefaultTimeoutS) * time.Second,
		Tool:           toolName,
		Version:        version.Short(),
		ExportPath:     app.Globals.Export,
	}
	return agent.Run(ctx, handle, inv)
}

// attach resolves the session for an agent-mode turn: an explicit id,
// the latest pointer, or a fresh session.
func (app *App) attach() (*session.Handle, error) {
	switch {
	case app.Globals.SessionID != "":
		return app.Sessions.Resume(app.Globals.SessionID)
	case app.Globals.Resume:
		return app.Sessions.Resume("")
	default:
		return app.Sessions.Create()
	}
}
