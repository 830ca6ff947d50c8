// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Entry is one transcript line: an event that crossed the machine
// stream in either direction, chained to its predecessor.
type Entry struct {
	Seq   int          `json:"seq"`
	TS    time.Time    `json:"ts"`
	Dir   Direction    `json:"dir"`
	Event pebble.Event `json:"event"`

	// Prev is the chain hash of the previous entry's serialized line,
	// or [GenesisHead] for the first entry.
	Prev string `json:"prev"`
}

// GenesisHead is the chain predecessor of the first transcript entry.
const GenesisHead = "blake3:0000000000000000000000000000000000000000000000000000000000000000"

// transcriptDomainKey is the BLAKE3 key for transcript chain hashes.
// The bytes are the ASCII domain name zero-padded to 32, readable in
// hex dumps; changing them invalidates every existing chain.
var transcriptDomainKey = [32]byte{
	'p', 'e', 'b', 'b', 'l', 'e', '.', 's', 'e', 's', 's', 'i', 'o', 'n', '.',
	't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p', 't', 0, 0, 0, 0, 0, 0, 0,
}

// hashLine computes the chain hash of one serialized entry line.
func hashLine(line []byte) string {
	// NewKeyed requires exactly 32 bytes, which the constant
	// guarantees; the error path is unreachable.
	hasher, err := blake3.NewKeyed(transcriptDomainKey[:])
	if err != nil {
		panic("session: keyed hasher init: " + err.Error())
	}
	hasher.Write(line)
	return "blake3:" + hex.EncodeToString(hasher.Sum(nil))
}

// encodeEntry serializes an entry as one compact JSONL line without a
// trailing newline.
func encodeEntry(e Entry) ([]byte, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("encoding transcript entry: %v", err))
	}
	return line, nil
}

// verifyChain walks serialized entry lines and checks that each
// entry's prev matches the hash of the preceding line. Returns the
// decoded entries and the chain head.
func verifyChain(lines [][]byte) ([]Entry, string, error) {
	entries := make([]Entry, 0, len(lines))
	head := GenesisHead
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, "", pebble.Sys("STORE_FAIL",
				fmt.Sprintf("transcript entry %d is not valid JSON: %v", i, err))
		}
		if e.Prev != head {
			return nil, "", pebble.Sys("STORE_FAIL",
				fmt.Sprintf("transcript chain broken at entry %d: prev %s does not match head %s", i, e.Prev, head))
		}
		entries = append(entries, e)
		head = hashLine(line)
	}
	return entries, head, nil
}
