// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"reflect"
	"testing"
)

func runbook(id, title, body string) Document {
	return Document{ID: id, Fields: []Field{
		{Text: title, Weight: 3},
		{Text: body, Weight: 1},
	}}
}

func corpus() *Index {
	return New([]Document{
		runbook("nginx-restart", "Restarting nginx",
			"Check nginx.conf with nginx -t before a restart. Restart with systemctl restart nginx."),
		runbook("disk-full", "Disk full on db-primary",
			"Rotate logs under /var/log and expand the volume if usage stays above 90 percent."),
		runbook("cert-expiry", "Certificate expiry",
			"Renew the certificate and reload nginx so the new certificate is served."),
		runbook("oncall", "On-call handbook",
			"Escalate to the platform lead when a remediation is not pre-authorized."),
	})
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Restart the nginx.conf on db-primary, then RELOAD!")
	want := []string{"restart", "nginx.conf", "db-primary", "then", "reload"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
}

func TestSearchRanksTitleMatchesFirst(t *testing.T) {
	results := corpus().Search("nginx restart", 0)
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	if results[0].ID != "nginx-restart" {
		t.Errorf("top hit = %s, want nginx-restart", results[0].ID)
	}
	if results[0].Relative != 1 {
		t.Errorf("top Relative = %v, want 1", results[0].Relative)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d: %v", i, results)
		}
		if results[i].Relative <= 0 || results[i].Relative > 1 {
			t.Errorf("Relative %v outside (0, 1]", results[i].Relative)
		}
	}
}

func TestSearchLimit(t *testing.T) {
	if results := corpus().Search("nginx certificate disk", 2); len(results) != 2 {
		t.Errorf("limit 2 returned %d results", len(results))
	}
}

func TestSearchNoMatch(t *testing.T) {
	index := corpus()
	for _, query := range []string{"", "the and of", "kubernetes"} {
		if results := index.Search(query, 5); results != nil {
			t.Errorf("Search(%q) = %v, want nil", query, results)
		}
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	index := New(nil)
	if index.Len() != 0 {
		t.Errorf("Len = %d", index.Len())
	}
	if results := index.Search("nginx", 5); results != nil {
		t.Errorf("Search on empty index = %v", results)
	}
}

func TestZeroWeightFieldIgnored(t *testing.T) {
	index := New([]Document{
		{ID: "hidden", Fields: []Field{{Text: "secret keyword", Weight: 0}}},
		{ID: "visible", Fields: []Field{{Text: "keyword", Weight: 1}}},
	})
	results := index.Search("secret", 0)
	if results != nil {
		t.Errorf("zero-weight field matched: %v", results)
	}
}
