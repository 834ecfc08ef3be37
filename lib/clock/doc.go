// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// Overwatch component that reads the current time or waits on it:
// evidence run identifiers, run timeouts, pre-authorization windows,
// escalation deadlines, and the scheduler.
//
// Production code receives Real(). Tests receive Fake(start), whose
// time moves only when Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
//	runner := agent.NewRunner(agent.RunnerConfig{Clock: fake, ...})
//	go runner.Execute(ctx, invocation)
//	fake.WaitForTimers(1)        // the runner armed its timeout
//	fake.Advance(2 * time.Minute) // fire it deterministically
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test moving time forward.
package clock
