// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package bm25 ranks short documents (runbooks, incident notes,
// configuration references) against a free-text query with Okapi
// BM25. It backs the internal tier of the knowledge service.
//
// Documents carry weighted fields; a field of weight n counts its
// terms n times, so a title can outrank body text without a per-field
// model. An Index is immutable after New and safe for concurrent
// searches.
package bm25
