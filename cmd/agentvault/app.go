// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/config"
	"github.com/agentvault/agentvault/lib/secret"
	"github.com/agentvault/agentvault/lib/vault"
)

// Flag values shared across commands. Each leaf command registers
// these on its own flag set via addCommonFlags.
var (
	flagConfig         string
	flagPassphraseFile string
)

// addCommonFlags registers the flags every vault-touching command
// accepts.
func addCommonFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&flagConfig, "config", "", "path to config file (default: AGENTVAULT_CONFIG)")
	flagSet.StringVar(&flagPassphraseFile, "passphrase-file", "", "read the vault passphrase from this file ('-' for stdin) instead of prompting")
}

// app bundles the loaded configuration and logger for one command
// invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// newApp loads configuration (--config flag, then AGENTVAULT_CONFIG,
// then defaults) and builds the command logger.
func newApp() (*app, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: cli.NewCommandLogger(cli.ParseLevel(cfg.Log.Level)),
	}, nil
}

// openVault opens the configured vault file without unlocking it.
// The parent directory is created on first use.
func (a *app) openVault() (*vault.Service, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Paths.Vault), 0700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	return vault.Open(vault.Config{
		Path:      a.cfg.Paths.Vault,
		KDFParams: a.cfg.KDFParams(),
		Logger:    a.logger,
	})
}

// readPassphrase reads the vault passphrase: from --passphrase-file
// when given ("-" means stdin), otherwise by prompting on the
// terminal. The caller owns the returned buffer.
func (a *app) readPassphrase(promptText string) (*secret.Buffer, error) {
	if flagPassphraseFile != "" {
		return secret.ReadFromPath(flagPassphraseFile)
	}
	return secret.Prompt(promptText)
}

// openUnlocked opens the vault and unlocks it with the passphrase.
// The caller must Close the returned service.
func (a *app) openUnlocked(ctx context.Context) (*vault.Service, error) {
	service, err := a.openVault()
	if err != nil {
		return nil, err
	}
	passphrase, err := a.readPassphrase("Vault passphrase: ")
	if err != nil {
		service.Close()
		return nil, err
	}
	defer passphrase.Close()

	if err := service.Unlock(ctx, passphrase); err != nil {
		service.Close()
		return nil, err
	}
	return service, nil
}
