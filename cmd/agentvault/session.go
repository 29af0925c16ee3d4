// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/cookieimport"
)

var (
	flagCookiesFile string
	flagExpiresIn   time.Duration
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Summary: "Import, list, and remove captured sessions",
		Subcommands: []*cli.Command{
			sessionAddCommand(),
			sessionListCommand(),
			sessionRemoveCommand(),
		},
	}
}

func sessionAddCommand() *cli.Command {
	return &cli.Command{
		Name:    "add",
		Summary: "Import cookies for a domain",
		Description: `Import a cookie export and store it as the session for a domain.

The export may be a flat JSON object (name to value) or a
browser-extension export array; comments and trailing commas are
tolerated. An existing session for the domain is fully replaced.

The session expiry is taken from the cookies' own expiration dates
when present (the earliest wins); otherwise --expires-in or the
configured default applies.`,
		Usage: "agentvault session add <domain> [flags]",
		Examples: []cli.Example{
			{
				Description: "Import a cookie export file",
				Command:     "agentvault session add linkedin.com --cookies-file export.json",
			},
			{
				Description: "Pipe cookies from a capture tool",
				Command:     "capture-cookies | agentvault session add gmail.com --cookies-file -",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("session add", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringVar(&flagCookiesFile, "cookies-file", "-", "cookie export file ('-' for stdin)")
			flagSet.DurationVar(&flagExpiresIn, "expires-in", 0, "session lifetime when cookies carry no expiry (default: config default_session_ttl)")
			return flagSet
		},
		Run: runSessionAdd,
	}
}

func runSessionAdd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one domain argument")
	}
	domain := args[0]

	app, err := newApp()
	if err != nil {
		return err
	}

	var data []byte
	if flagCookiesFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(flagCookiesFile)
	}
	if err != nil {
		return fmt.Errorf("reading cookie export: %w", err)
	}

	parsed, err := cookieimport.Parse(data)
	if err != nil {
		return err
	}
	cookies, expiresAt, err := cookieimport.CookieMap(parsed, domain)
	if err != nil {
		return err
	}

	now := time.Now()
	if expiresAt.IsZero() {
		ttl := flagExpiresIn
		if ttl == 0 {
			if ttl, err = app.cfg.SessionTTL(); err != nil {
				return err
			}
		}
		if ttl > 0 {
			expiresAt = now.Add(ttl)
		}
	}

	ctx := context.Background()
	service, err := app.openUnlocked(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	if err := service.PutSession(ctx, domain, cookies, now, expiresAt); err != nil {
		return err
	}
	fmt.Printf("Stored session for %s (%d cookies", domain, len(cookies))
	if !expiresAt.IsZero() {
		fmt.Printf(", expires %s", expiresAt.Format(time.RFC3339))
	}
	fmt.Println(")")
	return nil
}

func sessionListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List stored sessions",
		Usage:   "agentvault session list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("session list", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			return flagSet
		},
		Run: runSessionList,
	}
}

func runSessionList(args []string) error {
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

	views, err := service.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tCOOKIES\tCAPTURED\tEXPIRES\tSTATUS")
	for _, view := range views {
		expires := "-"
		if !view.Record.ExpiresAt.IsZero() {
			expires = view.Record.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		status := "ok"
		if view.Expired {
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			view.Record.Domain,
			len(view.Record.Cookies),
			view.Record.CapturedAt.Local().Format("2006-01-02 15:04"),
			expires,
			status)
	}
	return tw.Flush()
}

func sessionRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a stored session",
		Usage:   "agentvault session remove <domain> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("session remove", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			return flagSet
		},
		Run: runSessionRemove,
	}
}

func runSessionRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one domain argument")
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

	if err := service.DeleteSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed session for %s\n", args[0])
	return nil
}
