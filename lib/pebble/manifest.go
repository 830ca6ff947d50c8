// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package pebble

// Manifest is the static capability document a tool prints for
// --manifest. It is generated from the live action registry, never
// written by hand, so it cannot drift from what the tool dispatches.
type Manifest struct {
	SchemaVersion string       `json:"schema_version"`
	Pebble        ToolIdentity `json:"pebble"`
	Capabilities  Capabilities `json:"capabilities"`
	Actions       []ActionSpec `json:"actions"`
	Permissions   Permissions  `json:"permissions"`
	Limits        Limits       `json:"limits"`
}

// ManifestSchemaVersion is the manifest document version.
const ManifestSchemaVersion = "1.0"

// ToolIdentity names the tool.
type ToolIdentity struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Homepage    string `json:"homepage"`
}

// Capabilities are the boolean mode flags a consumer inspects before
// choosing how to drive the tool.
type Capabilities struct {
	Agent       bool `json:"agent"`
	Interactive bool `json:"interactive"`
	Streaming   bool `json:"streaming"`
	Resume      bool `json:"resume"`
}

// ActionSpec describes one dispatchable action: its positional
// arguments and typed options.
type ActionSpec struct {
	ID      string       `json:"id"`
	Summary string       `json:"summary"`
	Args    []ArgSpec    `json:"args"`
	Options []OptionSpec `json:"options"`
}

// ArgSpec describes a positional argument.
type ArgSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// OptionSpec describes a flag option with its type, default, and
// value constraints.
type OptionSpec struct {
	Name     string   `json:"name"`
	Short    string   `json:"short,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Default  any      `json:"default,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Desc     string   `json:"desc,omitempty"`
}

// Permissions declares what the tool touches: network destinations,
// filesystem paths, and environment variables it consumes.
type Permissions struct {
	Network        bool                  `json:"network"`
	NetworkDomains []string              `json:"network_domains"`
	Filesystem     FilesystemPermissions `json:"filesystem"`
	EnvVars        []string              `json:"env_vars"`
}

// FilesystemPermissions lists path patterns, $VAR references allowed.
type FilesystemPermissions struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Limits are the operational bounds a consumer should respect.
type Limits struct {
	DefaultTimeoutS int `json:"default_timeout_s"`
	MaxOutputMB     int `json:"max_output_mb"`
}
