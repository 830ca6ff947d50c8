// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry manages the project's registry.json: the inventory
// of managed domains and their intended DNS records, the servers they
// run on, and any tunnels. The registry is intent, not observed
// state; the dns actions talk to the live zone, the registry actions
// edit this file.
//
// The file is read with comment and trailing-comma tolerance (JSONC)
// so hand-maintained registries survive, and written atomically as
// plain pretty-printed JSON.
package registry
