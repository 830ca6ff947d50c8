// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"

	"github.com/pebbleworks/cf/lib/pebble"
)

// ToolInfo is the static half of the manifest: identity, permissions,
// and limits. The dynamic half (actions and options) comes from the
// registry.
type ToolInfo struct {
	Identity    pebble.ToolIdentity
	Permissions pebble.Permissions
	Limits      pebble.Limits
}

// BuildManifest derives the manifest from the live registry. Option
// specs are reflected from each action's params struct, so the
// manifest cannot describe a flag the CLI does not bind.
func BuildManifest(registry *Registry, info ToolInfo) (*pebble.Manifest, error) {
	manifest := &pebble.Manifest{
		SchemaVersion: pebble.ManifestSchemaVersion,
		Pebble:        info.Identity,
		Capabilities: pebble.Capabilities{
			Agent:       true,
			Interactive: true,
			Streaming:   true,
			Resume:      true,
		},
		Permissions: info.Permissions,
		Limits:      info.Limits,
	}

	for _, action := range registry.Actions() {
		var params any
		if action.Params != nil {
			params = action.Params()
		}
		options, err := OptionsFromParams(params)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", action.ID, err)
		}
		args := action.Args
		if args == nil {
			args = []pebble.ArgSpec{}
		}
		if options == nil {
			options = []pebble.OptionSpec{}
		}
		manifest.Actions = append(manifest.Actions, pebble.ActionSpec{
			ID:      action.ID,
			Summary: action.Summary,
			Args:    args,
			Options: options,
		})
	}
	return manifest, nil
}

// ValidateManifest cross-checks a manifest against the registry in
// both directions: every manifest action must be dispatchable, and
// every registered action must be declared. Run at startup so drift
// is a boot failure, not a silent capability lie.
func ValidateManifest(manifest *pebble.Manifest, registry *Registry) error {
	if manifest.SchemaVersion != pebble.ManifestSchemaVersion {
		return fmt.Errorf("manifest schema_version %q, want %q",
			manifest.SchemaVersion, pebble.ManifestSchemaVersion)
	}

	declared := make(map[string]bool, len(manifest.Actions))
	for _, spec := range manifest.Actions {
		if declared[spec.ID] {
			return fmt.Errorf("manifest declares action %s twice", spec.ID)
		}
		declared[spec.ID] = true
		if _, ok := registry.Lookup(spec.ID); !ok {
			return fmt.Errorf("manifest declares action %s which is not registered", spec.ID)
		}
	}
	for _, action := range registry.Actions() {
		if !declared[action.ID] {
			return fmt.Errorf("registered action %s missing from manifest", action.ID)
		}
	}
	return nil
}
