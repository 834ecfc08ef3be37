// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	component TEXT PRIMARY KEY,
	version   INTEGER NOT NULL
)`

// Migrate brings component's schema up to date. migrations[i] is the
// script that moves the schema from version i to version i+1; scripts
// already applied are skipped. Each call runs in one IMMEDIATE
// transaction, so concurrent openers apply each script once.
//
// Migrations are append-only: editing an applied script has no effect
// on databases that already ran it.
func (p *Pool) Migrate(ctx context.Context, component string, migrations []string) error {
	if component == "" {
		return fmt.Errorf("sqlitepool: migrate: component is required")
	}

	var applied, current int
	err := p.Immediate(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteTransient(conn, migrationsTable, nil); err != nil {
			return err
		}

		var err error
		current, err = schemaVersion(conn, component)
		if err != nil {
			return err
		}
		if current > len(migrations) {
			return fmt.Errorf("database schema for %s is at version %d, newer than this binary (%d)",
				component, current, len(migrations))
		}

		for version := current; version < len(migrations); version++ {
			if err := sqlitex.ExecuteScript(conn, migrations[version], nil); err != nil {
				return fmt.Errorf("migration %d: %w", version+1, err)
			}
			applied++
		}
		if applied == 0 {
			return nil
		}
		return sqlitex.Execute(conn,
			`INSERT INTO schema_migrations (component, version) VALUES (?, ?)
			 ON CONFLICT(component) DO UPDATE SET version = excluded.version`,
			&sqlitex.ExecOptions{Args: []any{component, len(migrations)}})
	})
	if err != nil {
		return fmt.Errorf("sqlitepool: migrate %s: %w", component, err)
	}

	if applied > 0 {
		p.logger.Info("schema migrated",
			"component", component,
			"from_version", current,
			"to_version", current+applied,
		)
	}
	return nil
}

// SchemaVersion returns the applied migration count for component.
func (p *Pool) SchemaVersion(ctx context.Context, component string) (int, error) {
	var version int
	err := p.Read(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteTransient(conn, migrationsTable, nil); err != nil {
			return err
		}
		var err error
		version, err = schemaVersion(conn, component)
		return err
	})
	return version, err
}

func schemaVersion(conn *sqlite.Conn, component string) (int, error) {
	version := 0
	err := sqlitex.Execute(conn,
		`SELECT version FROM schema_migrations WHERE component = ?`,
		&sqlitex.ExecOptions{
			Args: []any{component},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt(0)
				return nil
			},
		})
	return version, err
}
