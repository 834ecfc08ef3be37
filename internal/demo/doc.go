// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package demo provides two reference agents over a simulated fleet.
//
// health-monitor is passive. Every five minutes it checks each
// service in the fleet, records what it saw, and asks for unhealthy
// ones to be restarted: services in dev go straight to the executor,
// which may restart them under a pre-authorization policy, and
// everything else becomes an escalation for a human.
//
// executor is active and unscheduled. It performs one state-changing
// action per run, named either by its arguments or by the approved
// escalation it was dispatched for.
//
// The fleet is in memory. It is what `overwatch serve --demo` and the
// end-to-end tests drive.
package demo
