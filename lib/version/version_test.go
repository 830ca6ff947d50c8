// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestShortIsBareVersion(t *testing.T) {
	if Short() != Version {
		t.Errorf("Short() = %q, want %q", Short(), Version)
	}
	if strings.ContainsAny(Short(), " \n()") {
		t.Errorf("Short() = %q carries formatting", Short())
	}
}

func TestFullCarriesBuildIdentity(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Version+" ("+Commit+")") {
		t.Errorf("Full() = %q, want %q prefix", full, Version+" ("+Commit+")")
	}
	for _, want := range []string{Date, runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() = %q missing %q", full, want)
		}
	}
	if strings.HasSuffix(full, "\n") {
		t.Errorf("Full() ends with a newline; the caller adds it")
	}
}
