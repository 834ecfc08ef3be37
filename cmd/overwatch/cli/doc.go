// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the overwatch binary: a
// tree of [Command] values dispatched by name, flags bound from
// tagged parameter structs with [FlagsFromParams], --json output via
// [JSONOutput], and a logger that reads well on a terminal and parses
// well in a pipe.
package cli
