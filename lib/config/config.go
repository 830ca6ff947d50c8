// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Config is the resolved tool configuration: the project directory
// plus the settings from cf.yaml (or their defaults when the file is
// absent).
type Config struct {
	// ProjectDir is where .env, cf.yaml, registry.json, and the
	// session store live.
	ProjectDir string `yaml:"-"`

	// Limits bound operation and input-wait durations.
	Limits LimitsConfig `yaml:"limits"`

	// Session configures the session store.
	Session SessionConfig `yaml:"session"`

	// SSH configures remote execution for caddy and service probes.
	SSH SSHConfig `yaml:"ssh"`

	// Caddy configures the remote Caddyfile location.
	Caddy CaddyConfig `yaml:"caddy"`
}

// LimitsConfig bounds operation runtime and output size. These values
// are also published in the manifest limits block.
type LimitsConfig struct {
	// DefaultTimeoutS bounds one operation and one input-response
	// wait, in seconds.
	DefaultTimeoutS int `yaml:"default_timeout_s"`

	// MaxOutputMB is the advisory cap on machine-stream output.
	MaxOutputMB int `yaml:"max_output_mb"`
}

// SessionConfig selects and tunes the session store backend.
type SessionConfig struct {
	// Store is "file" (default) or "sqlite".
	Store string `yaml:"store"`

	// IdleTimeoutS closes sessions whose last activity is older than
	// this many seconds. Zero means the 24-hour default.
	IdleTimeoutS int `yaml:"idle_timeout_s"`
}

// SSHConfig holds remote execution defaults.
type SSHConfig struct {
	// User is the login user on managed servers.
	User string `yaml:"user"`

	// Port is the SSH port.
	Port int `yaml:"port"`

	// KeyPath is the private key file. Empty means the default
	// ~/.ssh/id_ed25519 then ~/.ssh/id_rsa.
	KeyPath string `yaml:"key_path"`

	// ConnectTimeoutS bounds connection establishment, in seconds.
	ConnectTimeoutS int `yaml:"connect_timeout_s"`
}

// CaddyConfig holds the remote Caddyfile location.
type CaddyConfig struct {
	// Caddyfile is the path on the managed server.
	Caddyfile string `yaml:"caddyfile"`
}

// Defaults for absent cf.yaml settings.
const (
	DefaultTimeoutS     = 60
	DefaultMaxOutputMB  = 10
	DefaultIdleTimeoutS = 86400
	DefaultSSHUser      = "root"
	DefaultSSHPort      = 22
	DefaultSSHTimeoutS  = 10
	DefaultCaddyfile    = "/etc/caddy/Caddyfile"
)

// ProjectDir resolves the project directory: CF_PROJECT_DIR when set,
// otherwise the current working directory.
func ProjectDir() string {
	if dir := os.Getenv("CF_PROJECT_DIR"); dir != "" {
		return dir
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// Load resolves the project directory, loads `.env` into the process
// environment (existing variables win), and parses `cf.yaml` when
// present. Both files are optional; a malformed cf.yaml is a
// configuration error, not something to paper over with defaults.
func Load() (*Config, error) {
	return LoadDir(ProjectDir())
}

// LoadDir is Load rooted at an explicit directory. Tests use this to
// avoid touching CF_PROJECT_DIR.
func LoadDir(dir string) (*Config, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		// godotenv.Load never overwrites variables that are already
		// set, so the real environment always wins over .env.
		if err := godotenv.Load(envPath); err != nil {
			return nil, pebble.Sys("CONFIG_ERROR", fmt.Sprintf("loading %s: %v", envPath, err))
		}
	}

	cfg := &Config{ProjectDir: dir}
	yamlPath := filepath.Join(dir, "cf.yaml")
	if raw, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, pebble.Input("CONFIG_ERROR", fmt.Sprintf("parsing %s: %v", yamlPath, err))
		}
	} else if !os.IsNotExist(err) {
		return nil, pebble.Sys("CONFIG_ERROR", fmt.Sprintf("reading %s: %v", yamlPath, err))
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Limits.DefaultTimeoutS == 0 {
		c.Limits.DefaultTimeoutS = DefaultTimeoutS
	}
	if c.Limits.MaxOutputMB == 0 {
		c.Limits.MaxOutputMB = DefaultMaxOutputMB
	}
	if c.Session.Store == "" {
		c.Session.Store = "file"
	}
	if c.Session.IdleTimeoutS == 0 {
		c.Session.IdleTimeoutS = DefaultIdleTimeoutS
	}
	if c.SSH.User == "" {
		c.SSH.User = DefaultSSHUser
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = DefaultSSHPort
	}
	if c.SSH.ConnectTimeoutS == 0 {
		c.SSH.ConnectTimeoutS = DefaultSSHTimeoutS
	}
	if c.Caddy.Caddyfile == "" {
		c.Caddy.Caddyfile = DefaultCaddyfile
	}
}

func (c *Config) validate() error {
	switch c.Session.Store {
	case "file", "sqlite":
	default:
		return pebble.Input("CONFIG_ERROR",
			fmt.Sprintf("session.store must be \"file\" or \"sqlite\", got %q", c.Session.Store))
	}
	if c.Limits.DefaultTimeoutS < 0 || c.Session.IdleTimeoutS < 0 {
		return pebble.Input("CONFIG_ERROR", "timeouts must not be negative")
	}
	return nil
}

// SessionsDir is where the session store keeps its records.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.ProjectDir, "sessions")
}

// RegistryPath is the domain registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.ProjectDir, "registry.json")
}

// CloudflareCredentials returns the zone id and API token for a
// domain. Credentials are keyed by the first domain label, uppercased:
// example.com reads CLOUDFLARE_EXAMPLE_ZONE_ID and
// CLOUDFLARE_EXAMPLE_API_TOKEN.
func CloudflareCredentials(domain string) (zoneID, token string, err error) {
	slug := domainSlug(domain)
	zoneVar := "CLOUDFLARE_" + slug + "_ZONE_ID"
	tokenVar := "CLOUDFLARE_" + slug + "_API_TOKEN"

	zoneID = os.Getenv(zoneVar)
	if zoneID == "" {
		return "", "", pebble.Auth("AUTH_FAILED",
			fmt.Sprintf("missing %s; add it to your .env file", zoneVar))
	}
	token = os.Getenv(tokenVar)
	if token == "" {
		return "", "", pebble.Auth("AUTH_FAILED",
			fmt.Sprintf("missing %s; add it to your .env file", tokenVar))
	}
	return zoneID, token, nil
}

// domainSlug maps a domain to its credential slug: the first label,
// uppercased, with hyphens mapped to underscores so the result is a
// valid environment variable fragment.
func domainSlug(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		label = domain
	}
	return strings.ToUpper(strings.ReplaceAll(label, "-", "_"))
}
