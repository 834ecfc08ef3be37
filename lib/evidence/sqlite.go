// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/codec"
	"github.com/overwatch-ops/overwatch/lib/sqlitepool"
)

// migrations for the run index shared by every day partition. The
// partition tables themselves are created on demand.
var migrations = []string{
	`CREATE TABLE evidence_runs (
		run_id    TEXT PRIMARY KEY,
		partition TEXT NOT NULL,
		agent     TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX idx_evidence_runs_agent ON evidence_runs(agent, timestamp);`,
}

const partitionLayout = "20060102"

// SQLiteStore keeps records in one table per UTC day, named
// evidence_YYYYMMDD, plus an evidence_runs index from run identifier
// to partition. Queries walk the partitions newest first; callers see
// no partition boundaries.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// partitionMu serializes partition creation and guards
	// knownPartitions.
	partitionMu     sync.Mutex
	knownPartitions map[string]bool
}

// SQLiteConfig holds the parameters for OpenSQLite.
type SQLiteConfig struct {
	// Pool is the shared database. The store does not close it.
	Pool *sqlitepool.Pool

	// Clock drives retention decisions.
	Clock clock.Clock

	Logger *slog.Logger
}

// OpenSQLite migrates the schema and discovers existing partitions.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("evidence store: Pool is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("evidence store: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := cfg.Pool.Migrate(ctx, "evidence", migrations); err != nil {
		return nil, fmt.Errorf("evidence store: %w", err)
	}

	store := &SQLiteStore{
		pool:            cfg.Pool,
		clock:           cfg.Clock,
		logger:          logger,
		knownPartitions: make(map[string]bool),
	}
	if err := store.discoverPartitions(ctx); err != nil {
		return nil, fmt.Errorf("evidence store: discovering partitions: %w", err)
	}
	return store, nil
}

func partitionSuffix(t time.Time) string {
	return t.UTC().Format(partitionLayout)
}

func (s *SQLiteStore) discoverPartitions(ctx context.Context) error {
	return s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"SELECT name FROM sqlite_master WHERE type='table' AND name GLOB 'evidence_[0-9]*'",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					s.knownPartitions[strings.TrimPrefix(stmt.ColumnText(0), "evidence_")] = true
					return nil
				},
			})
		if err != nil {
			return err
		}
		if len(s.knownPartitions) > 0 {
			s.logger.Info("discovered evidence partitions", "count", len(s.knownPartitions))
		}
		return nil
	})
}

// ensurePartition creates the day's table on first write.
func (s *SQLiteStore) ensurePartition(conn *sqlite.Conn, suffix string) error {
	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()
	if s.knownPartitions[suffix] {
		return nil
	}
	if err := sqlitex.ExecuteScript(conn, partitionSchema(suffix), nil); err != nil {
		return fmt.Errorf("evidence store: creating partition %s: %w", suffix, err)
	}
	s.knownPartitions[suffix] = true
	s.logger.Info("evidence partition created", "suffix", suffix)
	return nil
}

func partitionSchema(suffix string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS evidence_%[1]s (
			run_id       TEXT PRIMARY KEY,
			agent        TEXT NOT NULL,
			timestamp    INTEGER NOT NULL,
			status       TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			related      TEXT,
			escalations  TEXT NOT NULL,
			conclusions  TEXT,
			digest       TEXT NOT NULL,
			tier         INTEGER NOT NULL,
			codec        TEXT NOT NULL,
			raw_size     INTEGER NOT NULL,
			payload      BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_evidence_%[1]s_time ON evidence_%[1]s(timestamp);
		CREATE INDEX IF NOT EXISTS idx_evidence_%[1]s_agent ON evidence_%[1]s(agent, timestamp);
	`, suffix)
}

// escalationColumn stores escalation ids comma-delimited with a
// leading and trailing comma, so one LIKE finds an exact id.
func escalationColumn(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return "," + strings.Join(ids, ",") + ","
}

func parseEscalationColumn(column string) []string {
	trimmed := strings.Trim(column, ",")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}

func conclusionColumn(conclusions []string) any {
	if len(conclusions) == 0 {
		return nil
	}
	return strings.Join(conclusions, "\n")
}

func nullable(text string) any {
	if text == "" {
		return nil
	}
	return text
}

// Put writes record into its day partition in one IMMEDIATE
// transaction.
func (s *SQLiteStore) Put(ctx context.Context, record *Record) error {
	if err := prepare(record); err != nil {
		return err
	}
	payload, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("evidence store: encoding %s: %w", record.RunID, err)
	}
	suffix := partitionSuffix(record.Timestamp)

	// Partition creation commits on its own, ahead of the insert.
	err = s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return s.ensurePartition(conn, suffix)
	})
	if err != nil {
		return err
	}

	return s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		exists := false
		err := sqlitex.Execute(conn, "SELECT 1 FROM evidence_runs WHERE run_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{record.RunID},
				ResultFunc: func(*sqlite.Stmt) error {
					exists = true
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("evidence store: put %s: %w", record.RunID, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrExists, record.RunID)
		}

		err = sqlitex.Execute(conn,
			"INSERT INTO evidence_runs (run_id, partition, agent, timestamp) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{record.RunID, suffix, record.Agent, record.Timestamp.UnixNano()}})
		if err != nil {
			return fmt.Errorf("evidence store: indexing %s: %w", record.RunID, err)
		}

		err = sqlitex.Execute(conn,
			"INSERT INTO evidence_"+suffix+` (run_id, agent, timestamp, status, triggered_by,
				related, escalations, conclusions, digest, tier, codec, raw_size, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				record.RunID,
				record.Agent,
				record.Timestamp.UnixNano(),
				record.Status.String(),
				record.TriggeredBy.String(),
				nullable(record.RelatedEvidence),
				escalationColumn(record.EscalationIDs),
				conclusionColumn(record.Conclusions),
				record.Digest,
				int(TierFull),
				string(CodecNone),
				len(payload),
				payload,
			}})
		if err != nil {
			return fmt.Errorf("evidence store: inserting %s: %w", record.RunID, err)
		}
		return nil
	})
}

const selectColumns = "run_id, agent, timestamp, status, triggered_by, related, escalations, " +
	"conclusions, digest, tier, codec, raw_size, payload"

// Get returns the record for runID at whatever tier it has reached.
// Full and compressed records are digest-verified.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*Record, error) {
	var record *Record
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		partition := ""
		err := sqlitex.Execute(conn, "SELECT partition FROM evidence_runs WHERE run_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{runID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					partition = stmt.ColumnText(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if partition == "" {
			return ErrNotFound
		}

		return sqlitex.Execute(conn,
			"SELECT "+selectColumns+" FROM evidence_"+partition+" WHERE run_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{runID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					record, err = scanRecord(stmt)
					return err
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("evidence store: get %s: %w", runID, err)
	}
	if record == nil {
		// Indexed but the partition row is gone.
		return nil, fmt.Errorf("evidence store: get %s: %w", runID, ErrNotFound)
	}
	return record, nil
}

// Query searches the partitions overlapping the filter's time range,
// newest first, until the limit is reached.
func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	limit := filter.limit()
	partitions := s.partitionsInRange(filter.Since, filter.Until)
	if len(partitions) == 0 {
		return nil, nil
	}

	var results []*Record
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		for _, suffix := range partitions {
			if len(results) >= limit {
				return nil
			}
			records, err := queryPartition(conn, suffix, filter, limit-len(results))
			if err != nil {
				return err
			}
			results = append(results, records...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evidence store: query: %w", err)
	}
	return results, nil
}

func queryPartition(conn *sqlite.Conn, suffix string, filter Filter, limit int) ([]*Record, error) {
	var conditions []string
	var args []any

	if filter.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, filter.Agent)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.Until.UnixNano())
	}
	if filter.Status != 0 {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.Escalation != "" {
		conditions = append(conditions, `escalations LIKE ? ESCAPE '\'`)
		args = append(args, "%,"+escapeLike(filter.Escalation)+",%")
	}
	if filter.Conclusion != "" {
		conditions = append(conditions, `conclusions LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Conclusion)+"%")
	}

	query := "SELECT " + selectColumns + " FROM evidence_" + suffix
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, run_id DESC LIMIT ?"
	args = append(args, limit)

	var records []*Record
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evidence_%s: %w", suffix, err)
	}
	return records, nil
}

func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
}

// scanRecord decodes one row in selectColumns order.
func scanRecord(stmt *sqlite.Stmt) (*Record, error) {
	runID := stmt.ColumnText(0)
	tier := Tier(stmt.ColumnInt(9))

	if stmt.ColumnIsNull(12) {
		return indexRecord(stmt)
	}

	payload := make([]byte, stmt.ColumnLen(12))
	stmt.ColumnBytes(12, payload)
	raw, err := decompress(payload, Codec(stmt.ColumnText(10)), stmt.ColumnInt(11))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", runID, err)
	}

	var record Record
	if err := codec.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("record %s: decoding payload: %w", runID, err)
	}
	record.Digest = stmt.ColumnText(8)
	record.Tier = tier
	if tier.Detailed() {
		if err := VerifyDigest(&record); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

// indexRecord rebuilds the index-tier view from the row's columns.
func indexRecord(stmt *sqlite.Stmt) (*Record, error) {
	runID := stmt.ColumnText(0)
	status, err := ParseStatus(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", runID, err)
	}
	trigger, err := ParseTrigger(stmt.ColumnText(4))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", runID, err)
	}
	return &Record{
		RunID:           runID,
		Agent:           stmt.ColumnText(1),
		Timestamp:       time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		Status:          status,
		TriggeredBy:     trigger,
		RelatedEvidence: stmt.ColumnText(5),
		EscalationIDs:   parseEscalationColumn(stmt.ColumnText(6)),
		Digest:          stmt.ColumnText(8),
		Tier:            Tier(stmt.ColumnInt(9)),
	}, nil
}

// activePartitions returns the known partition suffixes, newest first.
func (s *SQLiteStore) activePartitions() []string {
	s.partitionMu.Lock()
	partitions := make([]string, 0, len(s.knownPartitions))
	for suffix := range s.knownPartitions {
		partitions = append(partitions, suffix)
	}
	s.partitionMu.Unlock()

	sort.Sort(sort.Reverse(sort.StringSlice(partitions)))
	return partitions
}

// partitionsInRange returns the partitions overlapping [since, until].
// A zero bound is open.
func (s *SQLiteStore) partitionsInRange(since, until time.Time) []string {
	all := s.activePartitions()
	if since.IsZero() && until.IsZero() {
		return all
	}

	var filtered []string
	for _, suffix := range all {
		day, err := time.Parse(partitionLayout, suffix)
		if err != nil {
			continue
		}
		if !since.IsZero() && !day.Add(24*time.Hour).After(since) {
			continue
		}
		if !until.IsZero() && day.After(until) {
			continue
		}
		filtered = append(filtered, suffix)
	}
	return filtered
}
