// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Bundle is the exported form of a session: the record, the verified
// transcript, and the chain head a consumer can re-check entries
// against.
type Bundle struct {
	Tool       string    `json:"tool"`
	ExportedAt time.Time `json:"exported_at"`
	Session    Session   `json:"session"`
	Entries    []Entry   `json:"entries"`
	ChainHead  string    `json:"chain_head"`
}

// cborEnc uses Core Deterministic Encoding so the same bundle always
// produces identical bytes.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
}

// EncodeBundle serializes a bundle for the given destination path.
// The base suffix picks the encoding (.cbor for deterministic CBOR,
// anything else indented JSON) and an outer .zst or .lz4 suffix adds
// compression: transcript.json, transcript.cbor, transcript.json.zst,
// transcript.cbor.lz4.
func EncodeBundle(path string, b *Bundle) ([]byte, error) {
	name := filepath.Base(path)

	compress := ""
	switch {
	case strings.HasSuffix(name, ".zst"):
		compress = "zstd"
		name = strings.TrimSuffix(name, ".zst")
	case strings.HasSuffix(name, ".lz4"):
		compress = "lz4"
		name = strings.TrimSuffix(name, ".lz4")
	}

	var raw []byte
	var err error
	if strings.HasSuffix(name, ".cbor") {
		raw, err = cborEnc.Marshal(b)
		if err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("encoding bundle as CBOR: %v", err))
		}
	} else {
		raw, err = json.MarshalIndent(b, "", "  ")
		if err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("encoding bundle as JSON: %v", err))
		}
		raw = append(raw, '\n')
	}

	switch compress {
	case "zstd":
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("initializing zstd: %v", err))
		}
		defer encoder.Close()
		return encoder.EncodeAll(raw, nil), nil
	case "lz4":
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, compressed, nil)
		if err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("compressing bundle with lz4: %v", err))
		}
		// lz4 blocks do not carry the source length; a consumer needs
		// it to size the decode buffer, so prepend it as the frame
		// header would.
		framed := make([]byte, 8, n+8)
		binary.BigEndian.PutUint64(framed, uint64(len(raw)))
		return append(framed, compressed[:n]...), nil
	default:
		return raw, nil
	}
}

// DecodeBundle reverses [EncodeBundle] for the same path suffix.
func DecodeBundle(path string, data []byte) (*Bundle, error) {
	name := filepath.Base(path)

	switch {
	case strings.HasSuffix(name, ".zst"):
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, pebble.Sys("STORE_FAIL", fmt.Sprintf("initializing zstd: %v", err))
		}
		defer decoder.Close()
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("decompressing bundle: %v", err))
		}
		name = strings.TrimSuffix(name, ".zst")
	case strings.HasSuffix(name, ".lz4"):
		if len(data) < 8 {
			return nil, pebble.Input("PARSE_FAIL", "lz4 bundle too short")
		}
		size := binary.BigEndian.Uint64(data)
		if size > 1<<31 {
			return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("lz4 bundle claims %d bytes", size))
		}
		decompressed := make([]byte, size)
		n, err := lz4.UncompressBlock(data[8:], decompressed)
		if err != nil {
			return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("decompressing bundle: %v", err))
		}
		data = decompressed[:n]
		name = strings.TrimSuffix(name, ".lz4")
	}

	var b Bundle
	if strings.HasSuffix(name, ".cbor") {
		if err := cbor.Unmarshal(data, &b); err != nil {
			return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("decoding CBOR bundle: %v", err))
		}
	} else {
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, pebble.Input("PARSE_FAIL", fmt.Sprintf("decoding JSON bundle: %v", err))
		}
	}
	return &b, nil
}

// WriteBundle encodes and writes a bundle via temp file and rename.
func WriteBundle(path string, b *Bundle) error {
	data, err := EncodeBundle(path, b)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("creating temp file in %s: %v", dir, err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("writing %s: %v", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("closing %s: %v", tmpName, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pebble.Sys("STORE_FAIL", fmt.Sprintf("replacing %s: %v", path, err))
	}
	return nil
}
