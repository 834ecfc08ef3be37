// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func escalationTree(called *string, received *[]string) *Command {
	return &Command{
		Name: "overwatch",
		Subcommands: []*Command{
			{Name: "version", Run: func(args []string) error { *called = "version"; return nil }},
			{
				Name: "escalation",
				Subcommands: []*Command{
					{Name: "list", Run: func(args []string) error { *called = "escalation list"; return nil }},
					{Name: "approve", Run: func(args []string) error {
						*called = "escalation approve"
						*received = args
						return nil
					}},
				},
			},
		},
	}
}

func TestCommand_Execute_Dispatch(t *testing.T) {
	tests := []struct {
		args     []string
		want     string
		wantArgs []string
	}{
		{[]string{"version"}, "version", nil},
		{[]string{"escalation", "list"}, "escalation list", nil},
		{[]string{"escalation", "approve", "esc-1"}, "escalation approve", []string{"esc-1"}},
	}
	for _, test := range tests {
		var called string
		var received []string
		if err := escalationTree(&called, &received).Execute(test.args); err != nil {
			t.Fatalf("Execute(%v): %v", test.args, err)
		}
		if called != test.want {
			t.Errorf("Execute(%v) ran %q, want %q", test.args, called, test.want)
		}
		if strings.Join(received, " ") != strings.Join(test.wantArgs, " ") {
			t.Errorf("Execute(%v) args = %v, want %v", test.args, received, test.wantArgs)
		}
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	var called string
	var received []string
	err := escalationTree(&called, &received).Execute([]string{"escalaton", "list"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "escalation"`) {
		t.Errorf("error = %v, want a suggestion", err)
	}

	err = escalationTree(&called, &received).Execute([]string{"frobnicate"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	var called string
	var received []string
	if err := escalationTree(&called, &received).Execute([]string{"escalation"}); err == nil {
		t.Error("Execute without a subcommand succeeded")
	}
	if called != "" {
		t.Errorf("ran %q", called)
	}
}

func TestCommand_Execute_Flags(t *testing.T) {
	var reason string
	var positional []string
	command := &Command{
		Name: "deny",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("deny", pflag.ContinueOnError)
			flagSet.StringVar(&reason, "reason", "", "why")
			return flagSet
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}

	if err := command.Execute([]string{"esc-1", "--reason", "not during the freeze"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reason != "not during the freeze" || len(positional) != 1 || positional[0] != "esc-1" {
		t.Errorf("reason %q args %v", reason, positional)
	}

	err := command.Execute([]string{"--reasn", "x"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --reason") {
		t.Errorf("error = %v, want a flag suggestion", err)
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{
		Name:        "overwatch",
		Description: "Governance for operations agents.",
		Subcommands: []*Command{
			{Name: "serve", Summary: "Run the scheduler and background loops"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{{Description: "Start with the demo agents", Command: "overwatch serve --demo"}},
	}
	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	help := buffer.String()
	for _, want := range []string{
		"Governance for operations agents.",
		"overwatch <command> [flags]",
		"serve",
		"Run the scheduler and background loops",
		"# Start with the demo agents",
		"Run 'overwatch <command> --help'",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help is missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"sweep", "sweep", 0},
		{"sweep", "swep", 1},
		{"approve", "aprove", 1},
		{"deny", "yned", 4},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

type listParams struct {
	JSONOutput
	Agent   string        `flag:"agent,a" desc:"only this agent"`
	Limit   int           `flag:"limit" desc:"maximum rows" default:"20"`
	Since   time.Duration `flag:"since" desc:"look back this far" default:"24h"`
	Tiers   []string      `flag:"tier" desc:"knowledge tiers"`
	Verbose bool          `flag:"verbose" default:"false"`
	Ignored string
}

func TestBindFlags(t *testing.T) {
	var params listParams
	flagSet := FlagsFromParams("list", &params)

	if params.Limit != 20 || params.Since != 24*time.Hour {
		t.Errorf("defaults = limit %d since %s", params.Limit, params.Since)
	}
	if flagSet.Lookup("ignored") != nil {
		t.Error("untagged field was bound")
	}

	err := flagSet.Parse([]string{"-a", "executor", "--limit", "5", "--tier", "internal,specialized", "--json", "extra"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Agent != "executor" || params.Limit != 5 || !params.OutputJSON {
		t.Errorf("params = %+v", params)
	}
	if len(params.Tiers) != 2 || params.Tiers[1] != "specialized" {
		t.Errorf("tiers = %v", params.Tiers)
	}
	if args := flagSet.Args(); len(args) != 1 || args[0] != "extra" {
		t.Errorf("positional args = %v", args)
	}
}

func TestBindFlagsErrors(t *testing.T) {
	var notStruct int
	if err := BindFlags(&notStruct, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags on *int succeeded")
	}
	if err := BindFlags(listParams{}, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags on a struct value succeeded")
	}
	var badDefault struct {
		Limit int `flag:"limit" default:"many"`
	}
	if err := BindFlags(&badDefault, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags with a bad default succeeded")
	}
}

func TestEmitJSON(t *testing.T) {
	var buffer bytes.Buffer
	previous := Stdout
	Stdout = &buffer
	t.Cleanup(func() { Stdout = previous })

	output := JSONOutput{}
	if done, err := output.EmitJSON([]string{"a"}); done || err != nil {
		t.Fatalf("EmitJSON without --json = %v, %v", done, err)
	}

	output.OutputJSON = true
	var empty []string
	if done, err := output.EmitJSON(empty); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("nil slice encoded as %q, want []", got)
	}
}
