// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler decides when agents run.
//
// Three things start a run: an agent's cron schedule, an ad hoc
// Trigger (the CLI, or one agent asking for another), and Dispatch of
// an approved escalation. Every run executes in its own goroutine.
// A weighted semaphore bounds how many run at once across all agents,
// and each agent has a single slot: a scheduled or ad hoc trigger for
// an agent that is still running is skipped and logged, while a
// dispatched escalation waits for the slot, since skipping it would
// lose a human's approval.
//
// Cron expressions are evaluated in UTC. When Run's context is
// cancelled the scheduler stops starting runs and drains the ones in
// flight, cancelling them if they outlast the drain timeout.
package scheduler
