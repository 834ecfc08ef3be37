// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Command overwatch runs and administers the Overwatch governance
// service: the scheduler and escalation loops, the evidence trail, and
// the approval queue.
package main

import (
	"os"

	"github.com/overwatch-ops/overwatch/lib/process"
)

func main() {
	if err := rootCommand().Execute(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}
