// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/internal/demo"
	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/process"
	"github.com/overwatch-ops/overwatch/lib/service"
)

type serveParams struct {
	configParams
	Demo bool `flag:"demo" desc:"run the demo agents against a simulated fleet"`
}

func serveCommand() *cli.Command {
	var params serveParams
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the scheduler, sweeper, dispatcher, and retention loops",
		Description: `Run the Overwatch service until interrupted.

The service schedules agent runs, expires stale escalations, dispatches
approved ones to their target agents, and compacts old evidence. On
SIGINT or SIGTERM it stops scheduling and waits for in-flight runs.

With --demo, a health monitor and an executor watch a simulated fleet.
If the policy file does not exist, the demo policies are written to it.`,
		Usage: "overwatch serve [--demo] [--config FILE]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("serve", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runServe(params)
		},
	}
}

func runServe(params serveParams) error {
	cfg, err := params.load()
	if err != nil {
		return err
	}
	logger := params.logger()

	agents := agent.NewRegistry()
	tools := capability.NewRegistry()
	if params.Demo {
		if err := cfg.EnsurePaths(); err != nil {
			return err
		}
		if err := writeDemoPolicies(cfg.Paths.Policies); err != nil {
			return err
		}
		if err := demo.Register(agents, tools, demo.DefaultFleet()); err != nil {
			return err
		}
	}
	if len(agents.Agents()) == 0 {
		return fmt.Errorf("no agents registered; run with --demo or embed lib/service with your own agents")
	}

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	svc, err := service.Open(ctx, service.Options{
		Config: cfg,
		Agents: agents,
		Tools:  tools,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("overwatch serving",
		"environment", cfg.Environment,
		"database", cfg.Paths.Database,
		"agents", len(agents.Agents()),
	)
	if err := svc.Run(ctx); err != nil {
		return err
	}
	logger.Info("overwatch stopped")
	return nil
}

// writeDemoPolicies creates path with the demo policies unless a file
// is already there.
func writeDemoPolicies(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("writing demo policies: %w", err)
	}
	if _, err := file.WriteString(demo.Policies); err != nil {
		file.Close()
		return fmt.Errorf("writing demo policies: %w", err)
	}
	return file.Close()
}
