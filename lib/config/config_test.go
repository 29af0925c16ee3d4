// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !strings.HasSuffix(cfg.Paths.Vault, filepath.Join(".agentvault", "vault.db")) {
		t.Errorf("default vault path = %q", cfg.Paths.Vault)
	}
	if !strings.HasSuffix(cfg.Paths.Keys, filepath.Join(".agentvault", "keys")) {
		t.Errorf("default keys path = %q", cfg.Paths.Keys)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}

	ttl, err := cfg.SessionTTL()
	if err != nil {
		t.Fatalf("SessionTTL() error: %v", err)
	}
	if ttl != 720*time.Hour {
		t.Errorf("default session TTL = %v, want 720h", ttl)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvault.yaml")
	content := `
paths:
  vault: /srv/agentvault/vault.db
  keys: /srv/agentvault/keys
kdf:
  time: 4
  memory_kib: 131072
  threads: 2
log:
  level: debug
default_session_ttl: 168h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Paths.Vault != "/srv/agentvault/vault.db" {
		t.Errorf("vault path = %q", cfg.Paths.Vault)
	}
	params := cfg.KDFParams()
	if params.Time != 4 || params.MemoryKiB != 131072 || params.Threads != 2 {
		t.Errorf("KDF params = %+v", params)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	ttl, err := cfg.SessionTTL()
	if err != nil {
		t.Fatalf("SessionTTL() error: %v", err)
	}
	if ttl != 168*time.Hour {
		t.Errorf("session TTL = %v, want 168h", ttl)
	}
}

func TestLoadFile_PartialOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvault.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Paths.Vault == "" || cfg.KDF.Time == 0 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadFile_VariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/operator")

	path := filepath.Join(t.TempDir(), "agentvault.yaml")
	content := "paths:\n  vault: ${HOME}/secure/vault.db\n  keys: ${AGENTVAULT_MISSING:-/tmp/keys}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Paths.Vault != "/home/operator/secure/vault.db" {
		t.Errorf("expanded vault path = %q", cfg.Paths.Vault)
	}
	if cfg.Paths.Keys != "/tmp/keys" {
		t.Errorf("default-expanded keys path = %q", cfg.Paths.Keys)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an unknown log level")
	}

	cfg = Default()
	cfg.Paths.Vault = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an empty vault path")
	}

	cfg = Default()
	cfg.KDF.MemoryKiB = 16
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a trivially small KDF memory cost")
	}

	cfg = Default()
	cfg.DefaultSessionTTL = "not-a-duration"
	if _, err := cfg.SessionTTL(); err == nil {
		t.Error("SessionTTL() accepted a malformed duration")
	}
}

func TestLoad_EnvUnset(t *testing.T) {
	t.Setenv("AGENTVAULT_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.Vault == "" {
		t.Error("Load() without env returned no defaults")
	}
}
