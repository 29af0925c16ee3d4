// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/agentclient"
	"github.com/agentvault/agentvault/lib/vault"
)

var flagFormat string

func getCommand() *cli.Command {
	return &cli.Command{
		Name:    "get",
		Summary: "Retrieve a session as an agent",
		Description: `Retrieve the stored session for a domain, acting as a named agent.

The request is signed with the agent's local keyfile and authorized
against the agent's scopes; every attempt is recorded in the audit
log. Denied requests exit with status 2.`,
		Usage: "agentvault get <agent> <domain> [flags]",
		Examples: []cli.Example{
			{
				Description: "Fetch cookies as JSON",
				Command:     "agentvault get sales-bot linkedin.com",
			},
			{
				Description: "Fetch cookies as a Cookie header value",
				Command:     "agentvault get sales-bot linkedin.com --format header",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringVar(&flagFormat, "format", "json", "output format: json or header")
			return flagSet
		},
		Run: runGet,
	}
}

func runGet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected agent and domain arguments")
	}
	agentName, domain := args[0], args[1]

	if flagFormat != "json" && flagFormat != "header" {
		return fmt.Errorf("unknown format %q (want json or header)", flagFormat)
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

	client, err := agentclient.New(ctx, service, app.cfg.Paths.Keys, agentName)
	if err != nil {
		return err
	}

	view, err := client.Session(ctx, domain)
	if err != nil {
		var denied *vault.DeniedError
		if errors.As(err, &denied) {
			fmt.Fprintf(os.Stderr, "access denied: %s\n", denied.Reason)
			return &cli.ExitError{Code: 2}
		}
		return err
	}

	if view.Expired {
		fmt.Fprintf(os.Stderr, "warning: session for %s expired %s\n",
			domain, view.Record.ExpiresAt.Format(time.RFC3339))
	}

	switch flagFormat {
	case "header":
		// Build the header from the view already fetched rather than
		// issuing a second signed request (and a second audit entry).
		names := make([]string, 0, len(view.Record.Cookies))
		for name := range view.Record.Cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([]string, len(names))
		for i, name := range names {
			pairs[i] = name + "=" + view.Record.Cookies[name]
		}
		fmt.Println(strings.Join(pairs, "; "))
	default:
		out := map[string]any{
			"domain":      view.Record.Domain,
			"cookies":     view.Record.Cookies,
			"captured_at": view.Record.CapturedAt.Format(time.RFC3339),
			"expired":     view.Expired,
		}
		if !view.Record.ExpiresAt.IsZero() {
			out["expires_at"] = view.Record.ExpiresAt.Format(time.RFC3339)
		}
		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}
	return nil
}
