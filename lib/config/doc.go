// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the cf project directory and its settings.
//
// The project directory comes from CF_PROJECT_DIR, defaulting to the
// current working directory. Inside it, a `.env` file (optional) is
// loaded into the process environment without overriding variables
// that are already set, and a `cf.yaml` file (optional) supplies
// operational settings: timeouts, session store selection, SSH and
// Caddy defaults. There is no other discovery and no hidden fallback
// chain; everything the tool reads comes from these two files plus
// the environment.
package config
