// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runbooks(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "nginx.md", `Notes kept by the web team.

# Restarting nginx
Run a graceful reload first. A full restart drops in-flight connections.

# TLS certificates
Certificates renew automatically thirty days before expiry.
`)
	writeFile(t, root, "databases/postgres.md", `# Replication lag
Check the replica's WAL receiver before restarting postgres.
`)
	writeFile(t, root, "databases/diagram.png", "not text")
	return root
}

func TestSplitPassages(t *testing.T) {
	sections := splitPassages([]byte("intro line\n\n# First\nbody one\n## Second\n\n#not-a-heading\nbody two\n# Empty\n"))
	if len(sections) != 4 {
		t.Fatalf("got %d sections: %+v", len(sections), sections)
	}
	if sections[0].heading != "" || sections[0].body != "intro line" {
		t.Errorf("preamble = %+v", sections[0])
	}
	if sections[2].heading != "Second" || !strings.Contains(sections[2].body, "#not-a-heading") {
		t.Errorf("second section = %+v", sections[2])
	}
	if sections[3].heading != "Empty" || sections[3].body != "" {
		t.Errorf("empty section = %+v", sections[3])
	}
}

func TestLoadLocalIndex(t *testing.T) {
	local, err := LoadLocalIndex(runbooks(t))
	if err != nil {
		t.Fatalf("LoadLocalIndex: %v", err)
	}
	if local.Len() != 4 {
		t.Errorf("Len = %d, want 4 passages", local.Len())
	}

	results, err := local.Search(context.Background(), Query{Text: "restart nginx graceful"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if top.Source != "nginx.md#Restarting nginx" || top.Category != GeneralCategory {
		t.Errorf("top result source %q category %q", top.Source, top.Category)
	}
	if top.Tier != Internal || top.TrustScore != DefaultTrust[Internal] {
		t.Errorf("top result tier %v trust %v", top.Tier, top.TrustScore)
	}
	if top.Score <= 0 || top.Score > 1 {
		t.Errorf("top score %v outside (0, 1]", top.Score)
	}
}

func TestLoadLocalIndexErrors(t *testing.T) {
	if _, err := LoadLocalIndex(""); err == nil {
		t.Error("empty root accepted")
	}
	if _, err := LoadLocalIndex(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing root accepted")
	}
}

func newRouter(t *testing.T, allowInternet bool, sources ...Source) *Router {
	t.Helper()
	return NewRouter(RouterConfig{
		Sources:       sources,
		MinConfidence: 0.3,
		AllowInternet: allowInternet,
		Logger:        testutil.Logger(t),
	})
}

func TestRouterFiltersAndRanks(t *testing.T) {
	local, err := LoadLocalIndex(runbooks(t))
	if err != nil {
		t.Fatalf("LoadLocalIndex: %v", err)
	}
	router := newRouter(t, false, local)
	ctx := context.Background()

	results, err := router.Query(ctx, Query{Text: "restarting postgres replica"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) == 0 || results[0].Category != "databases" {
		t.Fatalf("results = %+v", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d", i)
		}
	}
	for _, result := range results {
		if result.Score < 0.3 {
			t.Errorf("result below the confidence floor: %+v", result)
		}
	}

	scoped, _ := router.Query(ctx, Query{Text: "restarting postgres replica", Categories: []string{GeneralCategory}})
	for _, result := range scoped {
		if result.Category != GeneralCategory {
			t.Errorf("category filter let through %+v", result)
		}
	}

	strict, _ := router.Query(ctx, Query{Text: "restarting postgres replica", MinConfidence: 0.99, Limit: 1})
	if len(strict) > 1 {
		t.Errorf("limit ignored: %d results", len(strict))
	}
}

func TestRouterRejectsEmptyQuery(t *testing.T) {
	if _, err := newRouter(t, false).Query(context.Background(), Query{Text: "  "}); err == nil {
		t.Fatal("empty query accepted")
	}
}

type stubSource struct {
	tier    Tier
	results []Result
	err     error
	calls   int
}

func (s *stubSource) Tier() Tier { return s.tier }

func (s *stubSource) Search(ctx context.Context, query Query) ([]Result, error) {
	s.calls++
	return s.results, s.err
}

func TestInternetTierGuard(t *testing.T) {
	web := &stubSource{tier: Internet, results: []Result{{Content: "forum post", Score: 0.9, Tier: Internet}}}
	ctx := context.Background()

	tests := []struct {
		name          string
		routerAllows  bool
		queryOptsIn   bool
		wantForbidden bool
	}{
		{"query does not opt in", true, false, true},
		{"router disabled", false, true, true},
		{"both allow", true, true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			web.calls = 0
			router := newRouter(t, test.routerAllows, web)
			results, err := router.Query(ctx, Query{Text: "nginx 502", Tiers: []Tier{Internet}, AllowInternet: test.queryOptsIn})
			if test.wantForbidden {
				if !errors.Is(err, ErrInternetNotAllowed) {
					t.Fatalf("Query = %v, want ErrInternetNotAllowed", err)
				}
				if web.calls != 0 {
					t.Error("internet source consulted without permission")
				}
				return
			}
			if err != nil || len(results) != 1 {
				t.Fatalf("Query = %v, %v", results, err)
			}
		})
	}
}

func TestRouterSurvivesOneFailingSource(t *testing.T) {
	broken := &stubSource{tier: Internal, err: errors.New("disk gone")}
	working := &stubSource{tier: Specialized, results: []Result{{Content: "seen before", Score: 0.8, Tier: Specialized}}}

	results, err := newRouter(t, false, broken, working).Query(context.Background(), Query{Text: "nginx"})
	if err != nil || len(results) != 1 {
		t.Fatalf("Query = %v, %v", results, err)
	}
	if _, err := newRouter(t, false, broken).Query(context.Background(), Query{Text: "nginx"}); err == nil {
		t.Fatal("Query succeeded with every source failing")
	}
}

func TestEvidenceSource(t *testing.T) {
	ctx := context.Background()
	store := evidence.NewMemoryStore()
	for i, conclusion := range []string{"nginx upstream timeouts after deploy", "disk usage normal on db-primary"} {
		at := epoch.Add(time.Duration(i) * time.Hour)
		builder := evidence.NewBuilder(clock.Fake(at), "health-monitor", "health-monitor_"+at.Format("20060102_150405"), evidence.Scheduled())
		builder.Observe(evidence.SourceLogs, "502 responses rising", nil)
		builder.Conclude(conclusion)
		builder.Recommend("restart nginx if timeouts persist")
		record, err := builder.Seal(evidence.Completed, nil)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if err := store.Put(ctx, record); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	source := NewEvidenceSource(store, 0)
	results, err := source.Search(ctx, Query{Text: "nginx upstream timeouts"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if top.Source != "evidence:health-monitor_20260301_090000" || top.Category != "health-monitor" || top.Tier != Specialized {
		t.Errorf("top = %+v", top)
	}
	if !strings.Contains(top.Content, "concluded: nginx upstream timeouts after deploy") {
		t.Errorf("content = %q", top.Content)
	}
	if top.Score != 1 {
		t.Errorf("full-coverage best hit scored %v, want 1", top.Score)
	}
}

func TestTierText(t *testing.T) {
	for _, tier := range []Tier{Internal, Specialized, Internet} {
		text, err := tier.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var parsed Tier
		if err := parsed.UnmarshalText(text); err != nil || parsed != tier {
			t.Errorf("round trip of %v gave %v, %v", tier, parsed, err)
		}
	}
	if parsed, err := ParseTier("3"); err != nil || parsed != Internet {
		t.Errorf("ParseTier(3) = %v, %v", parsed, err)
	}
	if _, err := ParseTier("dark-web"); err == nil {
		t.Error("unknown tier accepted")
	}
}
