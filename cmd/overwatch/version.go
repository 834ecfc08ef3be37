// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/version"
)

type versionParams struct {
	Short bool `flag:"short" desc:"print the version number only"`
}

func versionCommand() *cli.Command {
	var params versionParams
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("version", &params) },
		Run: func(args []string) error {
			if params.Short {
				fmt.Fprintln(cli.Stdout, version.Short())
				return nil
			}
			fmt.Fprintln(cli.Stdout, "overwatch "+version.Full())
			return nil
		},
	}
}
