// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package escalation manages requests for human approval.
//
// An escalation asks a human to let a target agent perform an action
// on a scope. It is raised two ways: by an agent whose policy lists
// the target in can_escalate_to ([Manager.Create]), or by the
// enforcer when a state-changing call needs a human decision
// ([Manager.Open]). Approvers are notified through a [Notifier].
//
// A request moves pending → approved | denied | expired and never
// moves again. Every transition runs inside the store's per-request
// Update, so a request cannot be approved twice, or approved and
// expired. A request whose deadline has passed is expired even if the
// sweeper has not reached it yet: approval must strictly precede the
// deadline.
//
// Approval issues a single-use execution [Ticket] carrying the
// parameters the approver authorized. The dispatcher claims approved
// requests exactly once ([Manager.ClaimApproved]) and runs the target
// agent with the ticket; the enforcer redeems it for the one call it
// covers ([Manager.Redeem]); the run's evidence is linked back with
// [Manager.LinkExecution].
package escalation
