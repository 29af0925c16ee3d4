// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:    "init",
		Summary: "Create and initialize a new vault",
		Description: `Create a new vault file protected by a passphrase.

The passphrase is prompted twice and must be at least 8 characters.
Key derivation parameters come from the configuration and are stored
in the vault header, so later unlocks use the same cost regardless of
config changes.`,
		Usage: "agentvault init [flags]",
		Examples: []cli.Example{
			{
				Description: "Initialize the default vault",
				Command:     "agentvault init",
			},
			{
				Description: "Initialize a vault at a custom location",
				Command:     "AGENTVAULT_CONFIG=prod.yaml agentvault init",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			return flagSet
		},
		Run: runInit,
	}
}

func runInit(args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	service, err := app.openVault()
	if err != nil {
		return err
	}
	defer service.Close()

	passphrase, err := app.readPassphrase("New vault passphrase: ")
	if err != nil {
		return err
	}
	defer passphrase.Close()

	// Only the interactive path can confirm; a file is its own record.
	if flagPassphraseFile == "" {
		confirm, err := app.readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		match := confirm.Equal(passphrase.Bytes())
		confirm.Close()
		if !match {
			return fmt.Errorf("passphrases do not match")
		}
	}

	if err := service.Init(ctx, passphrase); err != nil {
		return err
	}
	fmt.Printf("Initialized vault at %s\n", app.cfg.Paths.Vault)
	return nil
}
