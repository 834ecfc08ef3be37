// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/policy"
)

func policyCommand() *cli.Command {
	return &cli.Command{
		Name:    "policy",
		Summary: "Inspect and validate RBAC and pre-authorization policies",
		Subcommands: []*cli.Command{
			policyListCommand(),
			policyValidateCommand(),
		},
	}
}

type policyListParams struct {
	configParams
	cli.JSONOutput
}

func policyListCommand() *cli.Command {
	var params policyListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List the configured agent policies and pre-authorizations",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			cfg, err := params.load()
			if err != nil {
				return err
			}
			set, err := policy.Load(cfg.Paths.Policies)
			if err != nil {
				return err
			}
			document := policy.Document{Agents: set.Agents(), PreAuthorizations: set.PreAuths()}
			if done, err := params.EmitJSON(document); done {
				return err
			}
			writePolicies(cli.Stdout, document)
			return nil
		},
	}
}

func writePolicies(w io.Writer, document policy.Document) {
	for i, agent := range document.Agents {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", paint(headingStyle, agent.AgentName), agent.Role)
		if len(agent.CanEscalateTo) > 0 {
			fmt.Fprintf(w, "  escalates to: %s\n", strings.Join(agent.CanEscalateTo, ", "))
		}
		if len(agent.RequiresApprovalFrom) > 0 {
			fmt.Fprintf(w, "  approvers:    %s\n", strings.Join(agent.RequiresApprovalFrom, ", "))
		}
		table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, permission := range agent.Permissions {
			line := fmt.Sprintf("  %s\t%s\t%s", permission.Tool, permission.Scope, permission.Approval)
			if permission.Policy != "" {
				line += "\t" + permission.Policy
			}
			fmt.Fprintln(table, line)
		}
		table.Flush()
	}

	if len(document.PreAuthorizations) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", paint(headingStyle, "Pre-authorizations"))
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "  ID\tAGENT\tACTION\tLIMIT\tCOOLDOWN")
	for _, rule := range document.PreAuthorizations {
		fmt.Fprintf(table, "  %s\t%s\t%s\t%d\t%s\n", rule.ID, rule.ActiveAgent, rule.Action, rule.Limit(), rule.Cooldown)
	}
	table.Flush()
}

func policyValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a policy file without loading the service",
		Usage:   "overwatch policy validate <file>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one policy file, got %d arguments", len(args))
			}
			set, err := policy.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s: %d agents, %d pre-authorizations\n",
				args[0], len(set.Agents()), len(set.PreAuths()))
			return nil
		},
	}
}
