// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by Overwatch
// binaries: reporting an error that happened before (or after) the
// structured logger exists, and deriving the root context that ends
// on SIGINT or SIGTERM.
package process
