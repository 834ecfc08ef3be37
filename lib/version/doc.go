// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what build of Overwatch is running.
//
// Release builds inject the values with -ldflags:
//
//	go build -ldflags "-X github.com/overwatch-ops/overwatch/lib/version.Version=1.2.0 \
//	    -X github.com/overwatch-ops/overwatch/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without injection the commit and build time fall back to the VCS
// stamp the Go toolchain embeds, when there is one.
package version
