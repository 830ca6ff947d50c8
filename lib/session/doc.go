// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns agent-mode conversation state: session
// identity, persistence, the single-writer claim that prevents two
// processes from interleaving writes to one transcript, and export.
//
// A [Store] persists session records, a "latest" pointer, and the
// hash-chained transcript. Two backends ship: a file store (one JSON
// record, one JSONL transcript, and one flock file per session) and a
// SQLite store. The [Manager] layers policy on top: id generation,
// resume resolution through the latest pointer, idle-timeout closing,
// and reopening of closed sessions on resume.
//
// Transcript entries are chained with keyed BLAKE3 hashes so an
// exported bundle is tamper-evident: each entry records the hash of
// the previous entry's serialized line, and export verifies the whole
// chain before writing the bundle.
package session
