// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/escalation"
)

func escalationCommand() *cli.Command {
	return &cli.Command{
		Name:    "escalation",
		Summary: "Review and resolve escalation requests",
		Description: `Review and resolve escalation requests.

An escalation asks a human to approve a state-changing action an agent
could not perform on its own. Approval issues a single-use ticket; the
running service dispatches it to the target agent.`,
		Subcommands: []*cli.Command{
			escalationListCommand(),
			escalationShowCommand(),
			escalationApproveCommand(),
			escalationDenyCommand(),
			escalationSweepCommand(),
		},
	}
}

type escalationListParams struct {
	configParams
	cli.JSONOutput
	Status string `flag:"status" desc:"pending, approved, denied, or expired" default:"pending"`
	All    bool   `flag:"all" desc:"every status"`
	Agent  string `flag:"agent" desc:"only requests targeting this agent"`
	Limit  int    `flag:"limit,n" desc:"maximum requests (0 for no limit)"`
}

func (p escalationListParams) filter() (escalation.Filter, error) {
	filter := escalation.Filter{TargetAgent: p.Agent, Limit: p.Limit}
	if p.All {
		return filter, nil
	}
	status, err := escalation.ParseStatus(p.Status)
	if err != nil {
		return escalation.Filter{}, err
	}
	filter.Status = status
	return filter, nil
}

func escalationListCommand() *cli.Command {
	var params escalationListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List escalation requests, most severe first",
		Usage:   "overwatch escalation list [--status STATUS | --all] [--json]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			filter, err := params.filter()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			requests, err := svc.Escalations().List(ctx, filter)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(requests); done {
				return err
			}
			writeRequestTable(cli.Stdout, requests, time.Now())
			return nil
		},
	}
}

func writeRequestTable(w io.Writer, requests []*escalation.Request, now time.Time) {
	if len(requests) == 0 {
		fmt.Fprintln(w, "no escalation requests")
		return
	}
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tSEVERITY\tSTATUS\tFROM\tACTION\tSCOPE\tEXPIRES")
	for _, request := range requests {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			request.ID,
			request.Severity,
			request.Status,
			request.SourceAgent,
			request.TargetAgent,
			request.TargetAction,
			request.Scope,
			expiry(request, now),
		)
	}
	table.Flush()
}

func expiry(request *escalation.Request, now time.Time) string {
	switch {
	case request.Status != escalation.Pending:
		return "-"
	case request.Deadline.IsZero():
		return "never"
	case !now.Before(request.Deadline):
		return "due"
	}
	return "in " + request.Deadline.Sub(now).Round(time.Minute).String()
}

type escalationShowParams struct {
	configParams
	cli.JSONOutput
}

func escalationShowCommand() *cli.Command {
	var params escalationShowParams
	return &cli.Command{
		Name:    "show",
		Summary: "Show one escalation request",
		Usage:   "overwatch escalation show <id> [--json]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("show", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one escalation id, got %d arguments", len(args))
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			request, err := svc.Escalations().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(request); done {
				return err
			}
			writeRequest(cli.Stdout, request)
			return nil
		},
	}
}

func writeRequest(w io.Writer, request *escalation.Request) {
	fmt.Fprintf(w, "%s  %s  %s\n", paint(headingStyle, request.ID), paintSeverity(request.Severity), request.Status)
	fmt.Fprintf(w, "from:      %s (%s)\n", request.SourceAgent, request.Origin)
	if request.SourceEvidenceID != "" {
		fmt.Fprintf(w, "evidence:  %s\n", request.SourceEvidenceID)
	}
	fmt.Fprintf(w, "action:    %s %s on %s\n", request.TargetAgent, request.TargetAction, request.Scope)
	fmt.Fprintf(w, "created:   %s\n", request.CreatedAt.Format(time.RFC3339))
	if !request.Deadline.IsZero() {
		fmt.Fprintf(w, "deadline:  %s\n", request.Deadline.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "reason:    %s\n", request.Justification)
	writeParams(w, "recommended", request.RecommendedParams)
	writeParams(w, "context", stringMap(request.Context))
	if request.Status.Terminal() {
		fmt.Fprintf(w, "resolved:  %s by %s\n", request.ResolvedAt.Format(time.RFC3339), request.ResolvedBy)
	}
	if request.Reason != "" {
		fmt.Fprintf(w, "note:      %s\n", request.Reason)
	}
	writeParams(w, "overrides", request.ParamOverrides)
	if request.ExecutionEvidenceID != "" {
		fmt.Fprintf(w, "executed:  %s\n", request.ExecutionEvidenceID)
	} else if request.Dispatched {
		fmt.Fprintln(w, "executed:  dispatched, awaiting evidence")
	}
}

func writeParams(w io.Writer, label string, params map[string]any) {
	if len(params) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, key := range slices.Sorted(maps.Keys(params)) {
		fmt.Fprintf(w, "  %s = %v\n", key, params[key])
	}
}

func stringMap(values map[string]string) map[string]any {
	converted := make(map[string]any, len(values))
	for key, value := range values {
		converted[key] = value
	}
	return converted
}

type escalationApproveParams struct {
	configParams
	identityParams
	Params []string `flag:"param,p" desc:"override a recommended parameter (key=value, repeatable)"`
}

func escalationApproveCommand() *cli.Command {
	var params escalationApproveParams
	return &cli.Command{
		Name:    "approve",
		Summary: "Approve a pending escalation and issue its ticket",
		Usage:   "overwatch escalation approve <id> [--as IDENTITY] [--param key=value]...",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("approve", &params) },
		Examples: []cli.Example{
			{Description: "Approve with fewer replicas than recommended", Command: "overwatch escalation approve esc-7f3a --param replicas=2"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one escalation id, got %d arguments", len(args))
			}
			approver, err := params.identity()
			if err != nil {
				return err
			}
			overrides, err := parseOverrides(params.Params)
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			ticket, err := svc.Escalations().Approve(ctx, args[0], approver, overrides)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "approved %s: %s may %s %s\n", ticket.RequestID, ticket.Agent, ticket.Action, ticket.Scope)
			return nil
		},
	}
}

// parseOverrides decodes key=value pairs. Values are read as YAML
// scalars, so replicas=3 is an integer and dry_run=true a boolean.
func parseOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, text, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--param %q: want key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(text), &value); err != nil || value == nil {
			value = text
		}
		overrides[key] = value
	}
	return overrides, nil
}

type escalationDenyParams struct {
	configParams
	identityParams
	Reason string `flag:"reason,r" desc:"why the request is denied (required)"`
}

func escalationDenyCommand() *cli.Command {
	var params escalationDenyParams
	return &cli.Command{
		Name:    "deny",
		Summary: "Deny a pending escalation",
		Usage:   "overwatch escalation deny <id> --reason TEXT [--as IDENTITY]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("deny", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one escalation id, got %d arguments", len(args))
			}
			if strings.TrimSpace(params.Reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			approver, err := params.identity()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			request, err := svc.Escalations().Deny(ctx, args[0], approver, params.Reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "denied %s\n", request.ID)
			return nil
		},
	}
}

type escalationSweepParams struct {
	configParams
}

func escalationSweepCommand() *cli.Command {
	var params escalationSweepParams
	return &cli.Command{
		Name:    "sweep",
		Summary: "Expire pending escalations past their deadline",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("sweep", &params) },
		Run: func(args []string) error {
			ctx := context.Background()
			svc, err := params.openStores(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			expired, err := svc.Escalations().SweepExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			for _, id := range expired {
				fmt.Fprintf(cli.Stdout, "expired %s\n", id)
			}
			if len(expired) == 0 {
				fmt.Fprintln(cli.Stdout, "nothing to expire")
			}
			return nil
		},
	}
}
