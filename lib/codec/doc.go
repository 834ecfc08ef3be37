// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every Overwatch
// package that persists structured data: evidence payloads, escalation
// rows, and the byte strings evidence digests are computed over.
//
// Encoding is Core Deterministic (RFC 8949 section 4.2), so the same
// logical value always produces the same bytes. Digests depend on
// that. Times encode as RFC 3339 text with nanoseconds so a record
// read back compares equal to the one written.
//
// Types that are only ever persisted use `cbor` struct tags. Types that
// also appear in CLI --json output use `json` tags, which the CBOR
// library falls back to when no `cbor` tag is present. A field never
// carries both.
package codec
