// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/overwatch-ops/overwatch/lib/codec"
	"github.com/overwatch-ops/overwatch/lib/sqlitepool"
)

var migrations = []string{
	`CREATE TABLE escalations (
		request_id   TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		severity     INTEGER NOT NULL,
		source_agent TEXT NOT NULL,
		target_agent TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		dispatched   INTEGER NOT NULL,
		body         BLOB NOT NULL
	);
	CREATE INDEX idx_escalations_status ON escalations(status, severity, created_at);
	CREATE INDEX idx_escalations_target ON escalations(target_agent, status);`,
}

// SQLiteStore keeps requests in the escalations table: the full
// request as a CBOR body plus the columns lists filter on. Update runs
// in a BEGIN IMMEDIATE transaction.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// OpenSQLite migrates the schema.
func OpenSQLite(ctx context.Context, pool *sqlitepool.Pool) (*SQLiteStore, error) {
	if err := pool.Migrate(ctx, "escalation", migrations); err != nil {
		return nil, fmt.Errorf("escalation: %w", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, request *Request) error {
	body, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("escalation store: encoding %s: %w", request.ID, err)
	}
	err = s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO escalations (request_id, status, severity, source_agent, target_agent,
				created_at, dispatched, body) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				request.ID,
				request.Status.String(),
				int(request.Severity),
				request.SourceAgent,
				request.TargetAgent,
				request.CreatedAt.UnixNano(),
				boolInt(request.Dispatched),
				body,
			}})
	})
	if err != nil {
		return fmt.Errorf("escalation store: inserting %s: %w", request.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Request, error) {
	var request *Request
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		request, err = load(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	var updated *Request
	err := s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		request, err := load(conn, id)
		if err != nil {
			return err
		}
		if err := fn(request); err != nil {
			return err
		}
		body, err := codec.Marshal(request)
		if err != nil {
			return fmt.Errorf("escalation store: encoding %s: %w", id, err)
		}
		err = sqlitex.Execute(conn,
			`UPDATE escalations SET status = ?, severity = ?, dispatched = ?, body = ?
			 WHERE request_id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				request.Status.String(),
				int(request.Severity),
				boolInt(request.Dispatched),
				body,
				id,
			}})
		if err != nil {
			return fmt.Errorf("escalation store: updating %s: %w", id, err)
		}
		updated = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Request, error) {
	var conditions []string
	var args []any
	if filter.Status != 0 {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.TargetAgent != "" {
		conditions = append(conditions, "target_agent = ?")
		args = append(args, filter.TargetAgent)
	}
	if filter.SourceAgent != "" {
		conditions = append(conditions, "source_agent = ?")
		args = append(args, filter.SourceAgent)
	}
	if filter.Undispatched {
		conditions = append(conditions, "dispatched = 0")
	}

	query := "SELECT request_id, body FROM escalations"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY severity, created_at, request_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var requests []*Request
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				request, err := decodeBody(stmt.ColumnText(0), stmt, 1)
				if err != nil {
					return err
				}
				requests = append(requests, request)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("escalation store: list: %w", err)
	}
	return requests, nil
}

func load(conn *sqlite.Conn, id string) (*Request, error) {
	var request *Request
	err := sqlitex.Execute(conn, "SELECT body FROM escalations WHERE request_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				request, err = decodeBody(id, stmt, 0)
				return err
			},
		})
	if err != nil {
		return nil, fmt.Errorf("escalation store: reading %s: %w", id, err)
	}
	if request == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return request, nil
}

func decodeBody(id string, stmt *sqlite.Stmt, column int) (*Request, error) {
	body := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, body)
	var request Request
	if err := codec.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("escalation store: decoding %s: %w", id, err)
	}
	return &request, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
