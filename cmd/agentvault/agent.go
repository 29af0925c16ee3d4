// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/identity"
)

var flagScopes []string

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Manage agent identities and their scopes",
		Subcommands: []*cli.Command{
			agentCreateCommand(),
			agentListCommand(),
			agentScopesCommand(),
			agentDeleteCommand(),
		},
	}
}

func agentCreateCommand() *cli.Command {
	return &cli.Command{
		Name:    "create",
		Summary: "Create an agent identity",
		Description: `Create a named agent identity with a fresh Ed25519 keypair.

The public key is stored inside the vault; the private key is written
once to a keyfile under the configured key directory and never stored
server-side. Scopes bound at creation limit which domains the agent
may retrieve sessions for.`,
		Usage: "agentvault agent create <name> [flags]",
		Examples: []cli.Example{
			{
				Description: "Create an agent scoped to two domains",
				Command:     "agentvault agent create sales-bot --scopes linkedin.com,gmail.com",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("agent create", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringSliceVar(&flagScopes, "scopes", nil, "domains the agent may access (comma-separated)")
			return flagSet
		},
		Run: runAgentCreate,
	}
}

func runAgentCreate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one agent name argument")
	}
	name := args[0]

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

	agent, privateKey, err := service.CreateIdentity(ctx, name, flagScopes)
	if err != nil {
		return err
	}

	keyfile, err := identity.SaveKeyfile(app.cfg.Paths.Keys, name, privateKey)
	if err != nil {
		// The identity exists but its key is gone. Roll back so the
		// operator can retry cleanly.
		if deleteErr := service.DeleteIdentity(ctx, name); deleteErr != nil {
			return fmt.Errorf("saving keyfile: %w (identity %s left behind: %v)", err, name, deleteErr)
		}
		return fmt.Errorf("saving keyfile: %w", err)
	}

	fmt.Printf("Created agent %s (%s)\n", agent.Name, agent.ID)
	fmt.Printf("Scopes:  %s\n", strings.Join(agent.Scopes, ", "))
	fmt.Printf("Keyfile: %s\n", keyfile)
	fmt.Println("The private key is not recoverable from the vault; keep the keyfile safe.")
	return nil
}

func agentListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List agent identities",
		Usage:   "agentvault agent list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("agent list", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			return flagSet
		},
		Run: runAgentList,
	}
}

func runAgentList(args []string) error {
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

	agents, err := service.ListIdentities(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents created.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tSCOPES\tCREATED")
	for _, agent := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			agent.Name,
			agent.ID,
			strings.Join(agent.Scopes, ","),
			agent.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func agentScopesCommand() *cli.Command {
	return &cli.Command{
		Name:    "scopes",
		Summary: "Replace an agent's scopes",
		Description: `Replace the full scope list of an agent identity.

The new list is not merged with the old one; pass every domain the
agent should keep access to.`,
		Usage: "agentvault agent scopes <name> --set <domains> [flags]",
		Examples: []cli.Example{
			{
				Description: "Narrow an agent to a single domain",
				Command:     "agentvault agent scopes sales-bot --set linkedin.com",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("agent scopes", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringSliceVar(&flagScopes, "set", nil, "replacement scope list (comma-separated)")
			return flagSet
		},
		Run: runAgentScopes,
	}
}

func runAgentScopes(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one agent name argument")
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

	agent, err := service.UpdateScopes(ctx, args[0], flagScopes)
	if err != nil {
		return err
	}
	fmt.Printf("Updated scopes for %s: %s\n", agent.Name, strings.Join(agent.Scopes, ", "))
	return nil
}

func agentDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete an agent identity",
		Description: `Delete an agent identity and its local keyfile.

Revocation is immediate: requests signed with the deleted agent's key
are refused as soon as the deletion commits.`,
		Usage: "agentvault agent delete <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("agent delete", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			return flagSet
		},
		Run: runAgentDelete,
	}
}

func runAgentDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one agent name argument")
	}
	name := args[0]

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

	if err := service.DeleteIdentity(ctx, name); err != nil {
		return err
	}
	if err := identity.RemoveKeyfile(app.cfg.Paths.Keys, name); err != nil {
		return err
	}
	fmt.Printf("Deleted agent %s\n", name)
	return nil
}
