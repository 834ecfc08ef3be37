// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/overwatch-ops/overwatch/lib/sqlitepool"
)

var migrations = []string{
	`CREATE TABLE preauth_firings (
		policy_id TEXT NOT NULL,
		scope     TEXT NOT NULL,
		fired_at  INTEGER NOT NULL
	);
	CREATE INDEX idx_preauth_firings_key ON preauth_firings(policy_id, scope, fired_at);`,
}

// SQLiteCounters keeps firing history in a table shared by every
// process using the database. TryAdmit runs in a BEGIN IMMEDIATE
// transaction, so the read-decide-insert sequence holds the write
// lock throughout.
type SQLiteCounters struct {
	pool *sqlitepool.Pool
}

// OpenSQLiteCounters migrates the schema.
func OpenSQLiteCounters(ctx context.Context, pool *sqlitepool.Pool) (*SQLiteCounters, error) {
	if err := pool.Migrate(ctx, "preauth", migrations); err != nil {
		return nil, fmt.Errorf("preauth: %w", err)
	}
	return &SQLiteCounters{pool: pool}, nil
}

func (c *SQLiteCounters) TryAdmit(ctx context.Context, key Key, now time.Time, limit Limit) (Outcome, error) {
	var outcome Outcome
	err := c.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		cutoff := now.Add(-limit.Window).UnixNano()
		err := sqlitex.Execute(conn,
			"DELETE FROM preauth_firings WHERE policy_id = ? AND scope = ? AND fired_at <= ?",
			&sqlitex.ExecOptions{Args: []any{key.PolicyID, key.Scope, cutoff}})
		if err != nil {
			return fmt.Errorf("pruning: %w", err)
		}

		var history []time.Time
		err = sqlitex.Execute(conn,
			"SELECT fired_at FROM preauth_firings WHERE policy_id = ? AND scope = ? ORDER BY fired_at",
			&sqlitex.ExecOptions{
				Args: []any{key.PolicyID, key.Scope},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					history = append(history, time.Unix(0, stmt.ColumnInt64(0)))
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}

		outcome = decide(history, now, limit)
		if outcome.Result != Admitted {
			return nil
		}
		err = sqlitex.Execute(conn,
			"INSERT INTO preauth_firings (policy_id, scope, fired_at) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{key.PolicyID, key.Scope, now.UnixNano()}})
		if err != nil {
			return fmt.Errorf("recording firing: %w", err)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("preauth counters: %s: %w", key, err)
	}
	return outcome, nil
}

func (c *SQLiteCounters) Count(ctx context.Context, key Key, since time.Time) (int, error) {
	count := 0
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT COUNT(*) FROM preauth_firings WHERE policy_id = ? AND scope = ? AND fired_at > ?",
			&sqlitex.ExecOptions{
				Args: []any{key.PolicyID, key.Scope, since.UnixNano()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, fmt.Errorf("preauth counters: %s: %w", key, err)
	}
	return count, nil
}
