// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package evidence defines the immutable record every agent run
// produces and the stores that keep them.
//
// A run accumulates its record through a [Builder]: observations it
// made, conclusions it drew, actions it took, and what it recommends.
// The runner seals the builder when the run ends, whatever the
// outcome, stamping the [Status] and a BLAKE3 digest over the
// deterministic CBOR encoding of the content. Writes that arrive after
// sealing (from a run abandoned at its timeout) are dropped.
//
// Records are append-only. [Store.Put] refuses a run identifier it
// already holds with [ErrExists]; a mistaken record is superseded by a
// new one whose RelatedEvidence points back at it (see [Correct]).
//
// Two stores are provided. [MemoryStore] serves tests and the demo.
// [SQLiteStore] partitions records into one table per UTC day and
// ages them through retention tiers with [SQLiteStore.Compact]:
//
//	full        the record as written, digest verified on read
//	compressed  payload compressed with zstd or lz4, digest verified
//	summary     observations and actions dropped, conclusions kept
//	index       identity, status, trigger, and links only
//
// Reads return whatever the record's tier retains; [Record.Tier] says
// which.
package evidence
