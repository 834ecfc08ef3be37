// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package preauth admits bounded automation. A pre-authorization
// policy lets an active agent act without a human decision, subject
// to conditions on the call and limits on how often it fires.
//
// Limits are kept per (policy, scope) key, so restarting nginx on dev
// does not use up the budget for restarting redis on dev. Within any
// sliding window of the policy's cooldown length, a key admits at most
// max_attempts firings; a policy without max_attempts fires once per
// cooldown. An optional min_interval spaces consecutive firings.
//
// The firing history lives in a [CounterStore]. Admission is one
// atomic check-and-record, so two runs racing for the last slot
// cannot both be admitted, in one process ([MemoryCounters]) or
// across processes sharing a database ([SQLiteCounters]).
package preauth
