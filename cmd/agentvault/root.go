// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/version"
)

// rootCommand builds the complete agentvault command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "agentvault",
		Description: `AgentVault: local credential vault for AI agents.

Store browser session cookies encrypted at rest, hand each agent a
scoped identity, and audit every access. Agents retrieve sessions
with signed requests; they never see the vault passphrase.`,
		Subcommands: []*cli.Command{
			initCommand(),
			sessionCommand(),
			agentCommand(),
			getCommand(),
			auditCommand(),
			backupCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("agentvault %s\n", version.String())
					return nil
				},
			},
		},
	}
}
