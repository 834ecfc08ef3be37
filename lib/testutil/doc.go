// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by Overwatch package tests.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve. They are the only place tests wait
// on the wall clock; everything else drives time through clock.Fake.
//
// [Logger] routes slog output through t.Log so it appears only for
// failing or verbose tests. [UniqueID] produces distinct identifiers
// without reading the clock.
//
// Helpers fail the test with t.Fatalf instead of returning errors.
package testutil
