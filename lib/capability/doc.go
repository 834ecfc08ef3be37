// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability is the boundary between agents and the tools
// they call.
//
// Tools are registered once at startup in a [Registry], each tagged
// read-only or state-changing by the constructor that built it
// ([ReadOnly], [StateChanging]). When an agent is constructed, the
// registry binds the tools it declares; a missing required tool is a
// configuration error ([ErrMissingTool]) and the agent never runs.
//
// Each run calls tools through its own [Boundary]. The boundary
// refuses tools the agent was not given ([ErrToolNotAvailable]), asks
// the authorization gate about every call, and runs the tool only
// when the gate allows it. State-changing calls are recorded through
// the [Recorder] whatever the outcome: success, failure, or skipped
// when the gate said no. A call the gate denied or parked is not asked
// again in the same run.
package capability
