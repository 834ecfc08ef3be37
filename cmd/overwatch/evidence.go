// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

func evidenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "evidence",
		Summary: "Inspect the evidence trail",
		Subcommands: []*cli.Command{
			evidenceListCommand(),
			evidenceShowCommand(),
		},
	}
}

type evidenceListParams struct {
	configParams
	cli.JSONOutput
	Agent      string        `flag:"agent" desc:"only runs of this agent"`
	Since      time.Duration `flag:"since" desc:"only runs newer than this (e.g. 24h)"`
	Until      string        `flag:"until" desc:"only runs at or before this RFC 3339 time"`
	Conclusion string        `flag:"conclusion" desc:"only runs with a conclusion containing this text"`
	Status     string        `flag:"status" desc:"only runs with this status (completed, failed, timed_out, invalid_context)"`
	Escalation string        `flag:"escalation" desc:"only runs linked to this escalation"`
	Limit      int           `flag:"limit,n" desc:"maximum records" default:"50"`
}

func (p evidenceListParams) filter(now time.Time) (evidence.Filter, error) {
	filter := evidence.Filter{
		Agent:      p.Agent,
		Conclusion: p.Conclusion,
		Escalation: p.Escalation,
		Limit:      p.Limit,
	}
	if p.Since > 0 {
		filter.Since = now.Add(-p.Since)
	}
	if p.Until != "" {
		until, err := time.Parse(time.RFC3339, p.Until)
		if err != nil {
			return evidence.Filter{}, fmt.Errorf("--until: %w", err)
		}
		filter.Until = until
	}
	if p.Status != "" {
		status, err := evidence.ParseStatus(p.Status)
		if err != nil {
			return evidence.Filter{}, err
		}
		filter.Status = status
	}
	return filter, nil
}

func evidenceListCommand() *cli.Command {
	var params evidenceListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List evidence records, newest first",
		Usage:   "overwatch evidence list [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Examples: []cli.Example{
			{Description: "Failed runs in the last day", Command: "overwatch evidence list --status failed --since 24h"},
			{Description: "Runs behind an escalation", Command: "overwatch evidence list --escalation esc-7f3a"},
		},
		Run: func(args []string) error {
			filter, err := params.filter(time.Now())
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			records, err := svc.Evidence().Query(ctx, filter)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(records); done {
				return err
			}
			writeRecordTable(cli.Stdout, records)
			return nil
		},
	}
}

func writeRecordTable(w io.Writer, records []*evidence.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no evidence records")
		return
	}
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "RUN\tAGENT\tTIME\tTRIGGER\tSTATUS\tCONCLUSION")
	for _, record := range records {
		conclusion := ""
		if len(record.Conclusions) > 0 {
			conclusion = record.Conclusions[0]
			if len(record.Conclusions) > 1 {
				conclusion += fmt.Sprintf(" (+%d)", len(record.Conclusions)-1)
			}
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.RunID,
			record.Agent,
			record.Timestamp.Format(time.RFC3339),
			record.TriggeredBy,
			record.Status,
			conclusion,
		)
	}
	table.Flush()
}

type evidenceShowParams struct {
	configParams
	cli.JSONOutput
}

func evidenceShowCommand() *cli.Command {
	var params evidenceShowParams
	return &cli.Command{
		Name:    "show",
		Summary: "Show one evidence record",
		Usage:   "overwatch evidence show <run-id> [--json]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("show", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one run id, got %d arguments", len(args))
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			record, err := svc.Evidence().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(record); done {
				return err
			}
			writeRecord(cli.Stdout, record)
			return nil
		},
	}
}

func writeRecord(w io.Writer, record *evidence.Record) {
	fmt.Fprintf(w, "%s  %s\n", paint(headingStyle, record.RunID), paintStatus(record.Status))
	fmt.Fprintf(w, "agent:     %s\n", record.Agent)
	fmt.Fprintf(w, "time:      %s\n", record.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "trigger:   %s\n", record.TriggeredBy)
	if record.Tier != evidence.TierFull {
		fmt.Fprintf(w, "tier:      %s\n", record.Tier)
	}
	if record.Digest != "" {
		fmt.Fprintf(w, "digest:    %s\n", paint(faintStyle, record.Digest))
	}
	if record.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", record.Error)
	}
	if len(record.EscalationIDs) > 0 {
		fmt.Fprintf(w, "escalations: %s\n", strings.Join(record.EscalationIDs, ", "))
	}
	if record.RelatedEvidence != "" {
		fmt.Fprintf(w, "related:   %s\n", record.RelatedEvidence)
	}

	if len(record.Observations) > 0 {
		fmt.Fprintf(w, "\n%s\n", paint(headingStyle, "Observations"))
		for _, observation := range record.Observations {
			fmt.Fprintf(w, "  [%s] %s\n", observation.Source, observation.Summary)
		}
	}
	writeList(w, "Conclusions", record.Conclusions)
	if len(record.ActionsTaken) > 0 {
		fmt.Fprintf(w, "\n%s\n", paint(headingStyle, "Actions"))
		for _, action := range record.ActionsTaken {
			fmt.Fprintf(w, "  %s %s: %s", action.Action, action.Target, action.Result)
			if action.EscalationID != "" {
				fmt.Fprintf(w, " (escalation %s)", action.EscalationID)
			}
			fmt.Fprintln(w)
			if action.Detail != "" {
				fmt.Fprintf(w, "    %s\n", action.Detail)
			}
			if action.RollbackHint != "" {
				fmt.Fprintf(w, "    rollback: %s\n", action.RollbackHint)
			}
		}
	}
	writeList(w, "Recommendations", record.Recommendations)
	writeList(w, "Next steps", record.NextSteps)
}

func writeList(w io.Writer, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", paint(headingStyle, heading))
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}
