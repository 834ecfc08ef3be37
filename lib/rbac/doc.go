// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package rbac decides whether an agent may invoke a tool on a scope.
//
// The Enforcer implements authz.Gate. It consults the agent's
// RBACPolicy, redeems execution tickets, asks the pre-authorization
// engine to admit pre_authorized calls, and opens an escalation for
// any state-changing call that needs a human decision. Passive agents
// never reach the escalation path from here: their state-changing
// calls are denied outright, and they raise escalations explicitly
// through the escalation manager instead.
package rbac
