// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pebbleworks/cf/lib/pebble"
)

func TestLoadDirDefaults(t *testing.T) {
	cfg, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if cfg.Limits.DefaultTimeoutS != DefaultTimeoutS {
		t.Errorf("DefaultTimeoutS = %d, want %d", cfg.Limits.DefaultTimeoutS, DefaultTimeoutS)
	}
	if cfg.Session.Store != "file" {
		t.Errorf("Session.Store = %q, want file", cfg.Session.Store)
	}
	if cfg.Session.IdleTimeoutS != DefaultIdleTimeoutS {
		t.Errorf("IdleTimeoutS = %d, want %d", cfg.Session.IdleTimeoutS, DefaultIdleTimeoutS)
	}
	if cfg.SSH.User != "root" || cfg.SSH.Port != 22 {
		t.Errorf("SSH defaults = %q:%d, want root:22", cfg.SSH.User, cfg.SSH.Port)
	}
	if cfg.Caddy.Caddyfile != DefaultCaddyfile {
		t.Errorf("Caddyfile = %q, want %q", cfg.Caddy.Caddyfile, DefaultCaddyfile)
	}
}

func TestLoadDirYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
limits:
  default_timeout_s: 30
session:
  store: sqlite
  idle_timeout_s: 3600
ssh:
  user: deploy
  port: 2222
`
	if err := os.WriteFile(filepath.Join(dir, "cf.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if cfg.Limits.DefaultTimeoutS != 30 {
		t.Errorf("DefaultTimeoutS = %d, want 30", cfg.Limits.DefaultTimeoutS)
	}
	if cfg.Session.Store != "sqlite" {
		t.Errorf("Session.Store = %q, want sqlite", cfg.Session.Store)
	}
	if cfg.Session.IdleTimeoutS != 3600 {
		t.Errorf("IdleTimeoutS = %d, want 3600", cfg.Session.IdleTimeoutS)
	}
	if cfg.SSH.User != "deploy" || cfg.SSH.Port != 2222 {
		t.Errorf("SSH = %q:%d, want deploy:2222", cfg.SSH.User, cfg.SSH.Port)
	}
	// Unset fields still get defaults.
	if cfg.Limits.MaxOutputMB != DefaultMaxOutputMB {
		t.Errorf("MaxOutputMB = %d, want default %d", cfg.Limits.MaxOutputMB, DefaultMaxOutputMB)
	}
}

func TestLoadDirBadStore(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cf.yaml"), []byte("session:\n  store: redis\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDir(dir)
	var record *pebble.Error
	if !errors.As(err, &record) {
		t.Fatalf("expected *pebble.Error, got %v", err)
	}
	if record.Cat != pebble.CatInput || record.Code != "CONFIG_ERROR" {
		t.Errorf("got %s/%s, want in/CONFIG_ERROR", record.Cat, record.Code)
	}
}

func TestLoadDirDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := "CF_TEST_FROM_DOTENV=hello\nCF_TEST_PRESET=dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CF_TEST_PRESET", "environment")
	os.Unsetenv("CF_TEST_FROM_DOTENV")
	defer os.Unsetenv("CF_TEST_FROM_DOTENV")

	if _, err := LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got := os.Getenv("CF_TEST_FROM_DOTENV"); got != "hello" {
		t.Errorf("CF_TEST_FROM_DOTENV = %q, want hello", got)
	}
	// The real environment wins over .env.
	if got := os.Getenv("CF_TEST_PRESET"); got != "environment" {
		t.Errorf("CF_TEST_PRESET = %q, want environment", got)
	}
}

func TestCloudflareCredentials(t *testing.T) {
	t.Setenv("CLOUDFLARE_EXAMPLE_ZONE_ID", "zone123")
	t.Setenv("CLOUDFLARE_EXAMPLE_API_TOKEN", "tok456")

	zone, token, err := CloudflareCredentials("example.com")
	if err != nil {
		t.Fatalf("CloudflareCredentials: %v", err)
	}
	if zone != "zone123" || token != "tok456" {
		t.Errorf("got (%q, %q), want (zone123, tok456)", zone, token)
	}
}

func TestCloudflareCredentialsMissing(t *testing.T) {
	os.Unsetenv("CLOUDFLARE_NOSUCH_ZONE_ID")
	os.Unsetenv("CLOUDFLARE_NOSUCH_API_TOKEN")

	_, _, err := CloudflareCredentials("nosuch.example")
	var record *pebble.Error
	if !errors.As(err, &record) {
		t.Fatalf("expected *pebble.Error, got %v", err)
	}
	if record.Cat != pebble.CatAuth {
		t.Errorf("cat = %s, want auth", record.Cat)
	}
}

func TestDomainSlug(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"example.com", "EXAMPLE"},
		{"my-site.io", "MY_SITE"},
		{"single", "SINGLE"},
		{"a.b.c.d", "A"},
	}
	for _, tt := range tests {
		if got := domainSlug(tt.domain); got != tt.want {
			t.Errorf("domainSlug(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}
}
