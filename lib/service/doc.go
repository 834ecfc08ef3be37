// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package service assembles a running Overwatch from its
// configuration.
//
// Open builds the shared pieces: one SQLite pool holding the
// evidence, escalation, and admission-counter tables, the loaded
// policy set, the escalation manager with its notifiers, and the RBAC
// enforcer. Given an agent registry and a tool registry it also builds
// the runner, the knowledge router, and the scheduler. The CLI opens
// the same service without agents to inspect evidence and resolve
// escalations.
//
// Run drives the background loops as one errgroup:
//
//   - the scheduler, firing cron entries and draining on shutdown
//   - the sweeper, expiring pending escalations past their deadline
//   - the dispatcher, handing approved escalations to their target
//     agents with the execution ticket
//   - retention, moving aged evidence down the storage tiers
//
// Any loop failing cancels the others.
package service
