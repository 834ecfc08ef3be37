// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the runtime contract between Overwatch and the
// agents it runs.
//
// An Agent declares its name, role, the tools it needs, and an
// optional cron schedule. Agents are added to a Registry by an
// explicit Register call at startup. The Runner executes one
// Invocation at a time per call:
//
//   - binds the agent's tools from the capability registry,
//   - validates the invocation's context,
//   - runs the agent under a timeout measured on the injected clock,
//   - seals and persists the run's evidence whatever the outcome,
//   - links the evidence back to the escalation a ticketed run
//     executed.
//
// Inside Run the agent reaches the world only through *Run: Invoke
// for tools (every call passes the capability boundary and the RBAC
// enforcer), Escalate for asking a human to authorize another agent,
// Query for the knowledge service, and Evidence for recording what
// it saw and concluded.
package agent
