// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz is the vocabulary shared by the capability boundary,
// which asks whether a tool call may proceed, and the RBAC enforcer,
// which answers. It has no dependencies on either so both can import
// it.
//
// A [Request] names one tool call: who is calling, which tool, against
// which scope, under what context. A [Gate] turns it into a
// [Decision], which is one of three outcomes:
//
//   - allowed: the tool may run now;
//   - pending: the call is parked behind a human-approval escalation
//     whose id the decision carries;
//   - denied: the call must not run, and Reason says why.
//
// [Decision.Err] converts the two non-allowed outcomes into the typed
// errors callers match with errors.As: [*DeniedError] and
// [*PendingError].
package authz
