// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/overwatch-ops/overwatch/lib/codec"
)

// RetentionPolicy ages records through the tiers. Ages are measured
// from the end of a record's UTC day. A zero duration disables that
// tier.
type RetentionPolicy struct {
	CompressAfter  time.Duration
	SummarizeAfter time.Duration
	IndexAfter     time.Duration

	// Codec compresses payloads in the compressed and summary tiers.
	Codec Codec
}

// CompactStats counts the records moved into each tier by one pass.
type CompactStats struct {
	Compressed int
	Summarized int
	Indexed    int
}

func (p RetentionPolicy) target(age time.Duration) Tier {
	switch {
	case p.IndexAfter > 0 && age >= p.IndexAfter:
		return TierIndex
	case p.SummarizeAfter > 0 && age >= p.SummarizeAfter:
		return TierSummary
	case p.CompressAfter > 0 && age >= p.CompressAfter:
		return TierCompressed
	}
	return TierFull
}

// Compact moves every record whose partition has aged past a tier
// boundary into that tier. Records only move forward. Each partition
// is rewritten in its own IMMEDIATE transaction; safe to call from a
// background ticker.
func (s *SQLiteStore) Compact(ctx context.Context, policy RetentionPolicy) (CompactStats, error) {
	var stats CompactStats
	now := s.clock.Now().UTC()

	for _, suffix := range s.activePartitions() {
		day, err := time.Parse(partitionLayout, suffix)
		if err != nil {
			s.logger.Warn("retention: unparseable partition suffix", "suffix", suffix, "error", err)
			continue
		}
		age := now.Sub(day.Add(24 * time.Hour))
		target := policy.target(age)
		if target == TierFull {
			continue
		}

		err = s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
			return compactPartition(conn, suffix, target, policy.Codec, &stats)
		})
		if err != nil {
			return stats, fmt.Errorf("evidence store: compacting %s: %w", suffix, err)
		}
	}

	if stats != (CompactStats{}) {
		s.logger.Info("evidence compacted",
			"compressed", stats.Compressed,
			"summarized", stats.Summarized,
			"indexed", stats.Indexed,
		)
	}
	return stats, nil
}

type pendingRow struct {
	runID   string
	codec   Codec
	rawSize int
	payload []byte
	isNull  bool
}

func compactPartition(conn *sqlite.Conn, suffix string, target Tier, preferred Codec, stats *CompactStats) error {
	table := "evidence_" + suffix

	var rows []pendingRow
	err := sqlitex.Execute(conn,
		"SELECT run_id, codec, raw_size, payload FROM "+table+" WHERE tier < ?",
		&sqlitex.ExecOptions{
			Args: []any{int(target)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row := pendingRow{
					runID:   stmt.ColumnText(0),
					codec:   Codec(stmt.ColumnText(1)),
					rawSize: stmt.ColumnInt(2),
					isNull:  stmt.ColumnIsNull(3),
				}
				if !row.isNull {
					row.payload = make([]byte, stmt.ColumnLen(3))
					stmt.ColumnBytes(3, row.payload)
				}
				rows = append(rows, row)
				return nil
			},
		})
	if err != nil {
		return err
	}

	for _, row := range rows {
		if target == TierIndex || row.isNull {
			err := sqlitex.Execute(conn,
				"UPDATE "+table+" SET tier = ?, codec = ?, raw_size = 0, payload = NULL, conclusions = NULL WHERE run_id = ?",
				&sqlitex.ExecOptions{Args: []any{int(TierIndex), string(CodecNone), row.runID}})
			if err != nil {
				return fmt.Errorf("indexing %s: %w", row.runID, err)
			}
			stats.Indexed++
			continue
		}

		raw, err := decompress(row.payload, row.codec, row.rawSize)
		if err != nil {
			return fmt.Errorf("record %s: %w", row.runID, err)
		}
		if target == TierSummary {
			var record Record
			if err := codec.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("record %s: decoding payload: %w", row.runID, err)
			}
			raw, err = codec.Marshal(record.summarized())
			if err != nil {
				return fmt.Errorf("record %s: encoding summary: %w", row.runID, err)
			}
		}

		compressed, used, err := compress(raw, preferred)
		if err != nil {
			return fmt.Errorf("record %s: %w", row.runID, err)
		}
		err = sqlitex.Execute(conn,
			"UPDATE "+table+" SET tier = ?, codec = ?, raw_size = ?, payload = ? WHERE run_id = ?",
			&sqlitex.ExecOptions{Args: []any{int(target), string(used), len(raw), compressed, row.runID}})
		if err != nil {
			return fmt.Errorf("rewriting %s: %w", row.runID, err)
		}
		if target == TierSummary {
			stats.Summarized++
		} else {
			stats.Compressed++
		}
	}
	return nil
}
