// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/config"
	"github.com/overwatch-ops/overwatch/lib/service"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "overwatch",
		Description: `Overwatch governs autonomous operations agents.

Passive agents observe and recommend; active agents change systems
only when a permission, a pre-authorization budget, or a human approval
allows it. Every run leaves an evidence record.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			evidenceCommand(),
			escalationCommand(),
			policyCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{Description: "Run the demo agents against a simulated fleet", Command: "overwatch serve --demo"},
			{Description: "Show the approval queue", Command: "overwatch escalation list"},
		},
	}
}

// configParams locate the configuration file. Every command that
// touches state embeds it.
type configParams struct {
	ConfigPath string `flag:"config,c" desc:"configuration file (default $OVERWATCH_CONFIG)"`
	Debug      bool   `flag:"debug" desc:"log at debug level"`
}

func (p configParams) load() (*config.Config, error) {
	if p.ConfigPath != "" {
		return config.LoadFile(p.ConfigPath)
	}
	return config.Load()
}

func (p configParams) logger() *slog.Logger {
	level := slog.LevelInfo
	if p.Debug {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(level)
}

// openStores opens the service without agents, for commands that
// read or resolve state.
func (p configParams) openStores(ctx context.Context) (*service.Service, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}
	return service.Open(ctx, service.Options{Config: cfg, Logger: p.logger()})
}

// identityParams name the human resolving an escalation.
type identityParams struct {
	As string `flag:"as" desc:"approver identity (default $OVERWATCH_IDENTITY, then the login name)"`
}

func (p identityParams) identity() (string, error) {
	if p.As != "" {
		return p.As, nil
	}
	if identity := os.Getenv("OVERWATCH_IDENTITY"); identity != "" {
		return identity, nil
	}
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("cannot determine approver identity, pass --as: %w", err)
	}
	return current.Username, nil
}
