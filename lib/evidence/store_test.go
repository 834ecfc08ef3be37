// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/sqlitepool"
	"github.com/overwatch-ops/overwatch/lib/testutil"
)

func openSQLite(t *testing.T, fake *clock.FakeClock) (*SQLiteStore, *sqlitepool.Pool) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "evidence.db"),
		Logger: testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store, err := OpenSQLite(context.Background(), SQLiteConfig{Pool: pool, Clock: fake, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return store, pool
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		store, _ := openSQLite(t, clock.Fake(epoch))
		fn(t, store)
	})
}

func sealed(t *testing.T, agent string, at time.Time, conclusions ...string) *Record {
	t.Helper()
	builder := NewBuilder(clock.Fake(at), agent, fmt.Sprintf("%s_%s", agent, at.Format("20060102_150405")), Scheduled())
	builder.Observe(SourceMetrics, "cpu 93%", map[string]any{"cpu": 0.93})
	for _, conclusion := range conclusions {
		builder.Conclude(conclusion)
	}
	builder.Act(Action{
		Action:       "restart_service",
		Target:       "service:nginx:dev",
		Result:       Success,
		Reversible:   true,
		RollbackHint: "none needed",
		Params:       map[string]any{"graceful": true, "timeout_s": 30},
		EscalationID: "esc-1",
	})
	builder.LinkEscalation("esc-1")
	record, err := builder.Seal(Completed, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return record
}

func TestStorePutGet(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		record := sealed(t, "health-monitor", epoch, "nginx is saturated")

		if err := store.Put(ctx, record); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, record.RunID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Digest != record.Digest || got.Tier != TierFull {
			t.Errorf("Get digest/tier = %s/%v, want %s/full", got.Digest, got.Tier, record.Digest)
		}
		if !got.Timestamp.Equal(record.Timestamp) || got.TriggeredBy != Scheduled() {
			t.Errorf("Get identity = %v %v", got.Timestamp, got.TriggeredBy)
		}
		if len(got.ActionsTaken) != 1 || got.ActionsTaken[0].Result != Success {
			t.Errorf("ActionsTaken = %+v", got.ActionsTaken)
		}
		if err := VerifyDigest(got); err != nil {
			t.Errorf("stored record fails verification: %v", err)
		}

		if _, err := store.Get(ctx, "nobody_20260301_000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
		}
	})
}

func TestStoreImmutable(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		record := sealed(t, "health-monitor", epoch, "first")
		if err := store.Put(ctx, record); err != nil {
			t.Fatal(err)
		}

		rewrite := record.Clone()
		rewrite.Conclusions = []string{"rewritten"}
		rewrite.Digest = ""
		if err := store.Put(ctx, rewrite); !errors.Is(err, ErrExists) {
			t.Fatalf("second Put = %v, want ErrExists", err)
		}

		// Mutating a returned record does not reach the store.
		got, _ := store.Get(ctx, record.RunID)
		got.Conclusions[0] = "mutated"
		again, _ := store.Get(ctx, record.RunID)
		if again.Conclusions[0] != "first" {
			t.Fatalf("stored conclusion = %q", again.Conclusions[0])
		}
	})
}

func TestStoreRejectsBadDigest(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		record := sealed(t, "health-monitor", epoch, "first")
		record.Conclusions = append(record.Conclusions, "added after sealing")
		if err := store.Put(context.Background(), record); !errors.Is(err, ErrDigestMismatch) {
			t.Fatalf("Put = %v, want ErrDigestMismatch", err)
		}
	})
}

func TestStoreCorrect(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		original := sealed(t, "health-monitor", epoch, "disk is full")
		if err := store.Put(ctx, original); err != nil {
			t.Fatal(err)
		}

		correction := sealed(t, "health-monitor", epoch.Add(time.Hour), "disk was 80%, not full")
		if err := Correct(ctx, store, original.RunID, correction); err != nil {
			t.Fatalf("Correct: %v", err)
		}
		got, err := store.Get(ctx, correction.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if got.RelatedEvidence != original.RunID {
			t.Errorf("RelatedEvidence = %q, want %q", got.RelatedEvidence, original.RunID)
		}
		untouched, _ := store.Get(ctx, original.RunID)
		if untouched.Conclusions[0] != "disk is full" {
			t.Errorf("original changed: %v", untouched.Conclusions)
		}

		orphan := sealed(t, "health-monitor", epoch.Add(2*time.Hour), "x")
		if err := Correct(ctx, store, "missing_20260301_000000", orphan); !errors.Is(err, ErrNotFound) {
			t.Errorf("Correct(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestStoreQuery(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		records := []*Record{
			sealed(t, "health-monitor", epoch, "nginx latency high"),
			sealed(t, "health-monitor", epoch.Add(24*time.Hour), "all quiet"),
			sealed(t, "log-scanner", epoch.Add(25*time.Hour), "OOM kills on db-primary"),
			sealed(t, "health-monitor", epoch.Add(72*time.Hour), "NGINX restarted cleanly"),
		}
		for _, record := range records {
			if err := store.Put(ctx, record); err != nil {
				t.Fatalf("Put %s: %v", record.RunID, err)
			}
		}

		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{"all newest first", Filter{}, []string{records[3].RunID, records[2].RunID, records[1].RunID, records[0].RunID}},
			{"by agent", Filter{Agent: "log-scanner"}, []string{records[2].RunID}},
			{"conclusion ignores case", Filter{Conclusion: "nginx"}, []string{records[3].RunID, records[0].RunID}},
			{"time range", Filter{Since: epoch.Add(12 * time.Hour), Until: epoch.Add(48 * time.Hour)}, []string{records[2].RunID, records[1].RunID}},
			{"limit", Filter{Agent: "health-monitor", Limit: 2}, []string{records[3].RunID, records[1].RunID}},
			{"escalation link", Filter{Escalation: "esc-1", Agent: "log-scanner"}, []string{records[2].RunID}},
			{"unknown escalation", Filter{Escalation: "esc-"}, nil},
			{"status", Filter{Status: Failed}, nil},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				got, err := store.Query(ctx, test.filter)
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				var ids []string
				for _, record := range got {
					ids = append(ids, record.RunID)
				}
				if fmt.Sprint(ids) != fmt.Sprint(test.want) {
					t.Errorf("Query(%+v) = %v, want %v", test.filter, ids, test.want)
				}
			})
		}
	})
}
