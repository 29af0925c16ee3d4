// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/backup"
)

var (
	flagBackupTo     []string
	flagBackupOutput string
)

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:    "backup",
		Summary: "Export encrypted vault backups",
		Subcommands: []*cli.Command{
			backupKeygenCommand(),
			backupExportCommand(),
		},
	}
}

func backupKeygenCommand() *cli.Command {
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a backup keypair",
		Description: `Generate an age X25519 keypair for backup encryption.

The public key (recipient) is printed and is safe to store anywhere;
pass it to 'backup export --to'. The private key is written to the
--output file with 0600 permissions and is the only way to open
backups encrypted to this recipient.`,
		Usage: "agentvault backup keygen --output <file>",
		Examples: []cli.Example{
			{
				Description: "Generate a keypair, keeping the private key in a file",
				Command:     "agentvault backup keygen --output backup-key.txt",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("backup keygen", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringVar(&flagBackupOutput, "output", "", "file to write the private key to")
			return flagSet
		},
		Run: runBackupKeygen,
	}
}

func runBackupKeygen(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if flagBackupOutput == "" {
		return fmt.Errorf("--output is required: the private key must be written somewhere")
	}

	keypair, err := backup.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	if err := os.WriteFile(flagBackupOutput, keypair.PrivateKey.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	fmt.Printf("Public key:  %s\n", keypair.PublicKey)
	fmt.Printf("Private key: %s\n", flagBackupOutput)
	return nil
}

func backupExportCommand() *cli.Command {
	return &cli.Command{
		Name:    "export",
		Summary: "Export an encrypted backup",
		Description: `Export the full vault contents (identities, sessions, audit log)
as a compressed archive encrypted to one or more age recipients.

The archive never contains plaintext; it can only be opened with a
private key matching one of the recipients. The export itself is
recorded in the audit log.`,
		Usage: "agentvault backup export --to <recipient> [--to ...] --output <file>",
		Examples: []cli.Example{
			{
				Description: "Export to a single recipient",
				Command:     "agentvault backup export --to age1... --output vault.backup",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("backup export", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringArrayVar(&flagBackupTo, "to", nil, "age recipient public key (repeatable)")
			flagSet.StringVar(&flagBackupOutput, "output", "", "file to write the encrypted archive to")
			return flagSet
		},
		Run: runBackupExport,
	}
}

func runBackupExport(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if len(flagBackupTo) == 0 {
		return fmt.Errorf("at least one --to recipient is required")
	}
	if flagBackupOutput == "" {
		return fmt.Errorf("--output is required")
	}
	for _, recipient := range flagBackupTo {
		if err := backup.ValidateRecipient(recipient); err != nil {
			return err
		}
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	service, err := app.openUnlocked(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	out, err := os.OpenFile(flagBackupOutput, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}

	if err := backup.Export(ctx, out, flagBackupTo, service); err != nil {
		out.Close()
		os.Remove(flagBackupOutput)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	detail := fmt.Sprintf("%d recipient(s)", len(flagBackupTo))
	if err := service.RecordBackup(ctx, detail); err != nil {
		return err
	}
	fmt.Printf("Exported backup to %s\n", flagBackupOutput)
	return nil
}
