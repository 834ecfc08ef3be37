// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database that backs Overwatch's
// persistent stores: evidence records, escalation requests, and
// pre-authorization admission counters. Several processes (the
// service and CLI invocations resolving escalations) share one file,
// so every connection runs in WAL mode with a busy timeout and every
// mutation that reads before it writes runs under BEGIN IMMEDIATE.
//
// Stores describe their tables as an ordered list of migrations.
// [Pool.Migrate] applies the ones a database has not seen yet and
// records progress per component in the schema_migrations table, so
// the three stores can share a file and evolve independently:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Logger: logger})
//	...
//	err = pool.Migrate(ctx, "escalation", []string{
//	    `CREATE TABLE escalations (...)`,
//	})
//
// Writes go through [Pool.Immediate], which takes a connection, opens
// an IMMEDIATE transaction, and commits when the callback returns nil.
// Reads use [Pool.Read]. Both return the connection to the pool.
//
// The package exposes zombiezen's connection and statement types
// directly; callers write SQL with sqlitex.Execute.
package sqlitepool
