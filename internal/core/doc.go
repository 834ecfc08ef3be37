// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds end-to-end tests of the governance path: the
// reference agents running through the assembled service on SQLite,
// from a failed health check to an executed and audited remediation.
package core
