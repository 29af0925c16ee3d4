// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads AgentVault configuration.
//
// Configuration comes from a single YAML file specified by:
//   - AGENTVAULT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// When neither is set, built-in defaults apply (vault and keys under
// the user's home directory). Environment variables never override
// individual config values; the file is the single source of truth,
// with only ${VAR} path expansion for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentvault/agentvault/lib/masterkey"
)

// Config is the AgentVault configuration.
type Config struct {
	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// KDF configures Argon2id key derivation for vault
	// initialization. Existing vaults always use the parameters
	// stored in their header.
	KDF KDFConfig `yaml:"kdf"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// DefaultSessionTTL is the expiry applied to imported sessions
	// that carry no expiry of their own, as a Go duration string.
	// Empty means no expiry is assigned.
	DefaultSessionTTL string `yaml:"default_session_ttl"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Vault is the vault database file.
	Vault string `yaml:"vault"`

	// Keys is the directory agent keyfiles are written to on
	// identity creation. Created 0700 on first use.
	Keys string `yaml:"keys"`
}

// KDFConfig mirrors masterkey.Params in YAML form.
type KDFConfig struct {
	// Time is the Argon2id pass count.
	Time uint32 `yaml:"time"`

	// MemoryKiB is the Argon2id memory cost in KiB.
	MemoryKiB uint32 `yaml:"memory_kib"`

	// Threads is the Argon2id parallelism.
	Threads uint8 `yaml:"threads"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the default configuration: vault data under
// ~/.agentvault, moderate KDF cost, info logging.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".agentvault")
	defaults := masterkey.DefaultParams()

	return &Config{
		Paths: PathsConfig{
			Vault: filepath.Join(root, "vault.db"),
			Keys:  filepath.Join(root, "keys"),
		},
		KDF: KDFConfig{
			Time:      defaults.Time,
			MemoryKiB: defaults.MemoryKiB,
			Threads:   defaults.Threads,
		},
		Log: LogConfig{Level: "info"},
		// Matches typical web session lifetimes; sessions whose
		// cookies carry explicit expiries keep those instead.
		DefaultSessionTTL: "720h",
	}
}

// Load loads configuration from AGENTVAULT_CONFIG when set, otherwise
// returns the defaults.
func Load() (*Config, error) {
	path := os.Getenv("AGENTVAULT_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, merged over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// KDFParams converts the YAML block to masterkey parameters.
func (c *Config) KDFParams() masterkey.Params {
	return masterkey.Params{
		Time:      c.KDF.Time,
		MemoryKiB: c.KDF.MemoryKiB,
		Threads:   c.KDF.Threads,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Vault == "" {
		errs = append(errs, fmt.Errorf("paths.vault is required"))
	}
	if c.Paths.Keys == "" {
		errs = append(errs, fmt.Errorf("paths.keys is required"))
	}
	if err := c.KDFParams().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SessionTTL parses DefaultSessionTTL. Zero duration means none
// configured.
func (c *Config) SessionTTL() (time.Duration, error) {
	if c.DefaultSessionTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.DefaultSessionTTL)
	if err != nil {
		return 0, fmt.Errorf("config: parsing default_session_ttl: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("config: default_session_ttl must not be negative")
	}
	return ttl, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Vault = expandVars(c.Paths.Vault, vars)
	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}
