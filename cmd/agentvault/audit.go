// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentvault/agentvault/cmd/agentvault/cli"
	"github.com/agentvault/agentvault/lib/auditlog"
)

var (
	flagAuditAgent  string
	flagAuditDomain string
	flagAuditSince  string
	flagAuditUntil  string
	flagAuditVerify bool
)

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:    "audit",
		Summary: "Inspect and verify the audit log",
		Description: `Show audit log entries, optionally filtered by agent, domain, or
time range. With --verify, check the hash chain over the full log
instead of printing entries.

Time bounds accept RFC 3339 timestamps ("2026-08-30T00:00:00Z") or a
duration before now ("24h").`,
		Usage: "agentvault audit [flags]",
		Examples: []cli.Example{
			{
				Description: "Show everything sales-bot did in the last day",
				Command:     "agentvault audit --agent sales-bot --since 24h",
			},
			{
				Description: "Verify the audit log hash chain",
				Command:     "agentvault audit --verify",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
			addCommonFlags(flagSet)
			flagSet.StringVar(&flagAuditAgent, "agent", "", "only entries for this agent name")
			flagSet.StringVar(&flagAuditDomain, "domain", "", "only entries for this domain")
			flagSet.StringVar(&flagAuditSince, "since", "", "only entries at or after this time")
			flagSet.StringVar(&flagAuditUntil, "until", "", "only entries before this time")
			flagSet.BoolVar(&flagAuditVerify, "verify", false, "verify the hash chain instead of listing")
			return flagSet
		},
		Run: runAudit,
	}
}

// parseTimeBound accepts an absolute RFC 3339 timestamp or a duration
// interpreted as "that long before now".
func parseTimeBound(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("time bound %q is neither RFC 3339 nor a duration", value)
	}
	return now.Add(-d), nil
}

func runAudit(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
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

	if flagAuditVerify {
		length, err := service.AuditLength(ctx)
		if err != nil {
			return err
		}
		if err := service.VerifyAuditChain(ctx); err != nil {
			return fmt.Errorf("audit chain verification failed: %w", err)
		}
		fmt.Printf("Audit chain intact: %d entries\n", length)
		return nil
	}

	now := time.Now()
	filter := auditlog.Filter{Domain: flagAuditDomain}
	if filter.Since, err = parseTimeBound(flagAuditSince, now); err != nil {
		return err
	}
	if filter.Until, err = parseTimeBound(flagAuditUntil, now); err != nil {
		return err
	}
	if flagAuditAgent != "" {
		agent, err := service.GetIdentity(ctx, flagAuditAgent)
		if err != nil {
			return err
		}
		filter.IdentityID = agent.ID
	}

	entries, err := service.Audit(ctx, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No matching audit entries.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tOPERATION\tAGENT\tDOMAIN\tOUTCOME\tDETAIL")
	for _, entry := range entries {
		agent := entry.IdentityName
		if agent == "" {
			agent = "-"
		}
		domain := entry.Domain
		if domain == "" {
			domain = "-"
		}
		detail := entry.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.Seq,
			entry.Time.Local().Format("2006-01-02 15:04:05"),
			entry.Operation,
			agent,
			domain,
			entry.Outcome,
			detail)
	}
	return tw.Flush()
}
