// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/bm25"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

// Field weights for evidence passages.
const (
	weightConclusion     = 3
	weightRecommendation = 2
	weightObservation    = 1
)

// DefaultEvidenceWindow is how many recent records EvidenceSource
// searches when no window is given.
const DefaultEvidenceWindow = 200

// EvidenceSource serves the specialized tier from recent evidence:
// what agents have concluded and recommended before. A record's
// category is its agent name.
type EvidenceSource struct {
	store  evidence.Store
	window int
}

var _ Source = (*EvidenceSource)(nil)

// NewEvidenceSource searches the window most recent records of store.
// A non-positive window uses DefaultEvidenceWindow.
func NewEvidenceSource(store evidence.Store, window int) *EvidenceSource {
	if window <= 0 {
		window = DefaultEvidenceWindow
	}
	return &EvidenceSource{store: store, window: window}
}

func (s *EvidenceSource) Tier() Tier { return Specialized }

func (s *EvidenceSource) Search(ctx context.Context, query Query) ([]Result, error) {
	records, err := s.store.Query(ctx, evidence.Filter{Limit: s.window})
	if err != nil {
		return nil, fmt.Errorf("knowledge: reading evidence: %w", err)
	}

	documents := make([]bm25.Document, 0, len(records))
	byRun := make(map[string]*evidence.Record, len(records))
	for _, record := range records {
		if len(record.Conclusions) == 0 && len(record.Recommendations) == 0 {
			continue
		}
		byRun[record.RunID] = record
		documents = append(documents, bm25.Document{ID: record.RunID, Fields: evidenceFields(record)})
	}

	queryTerms := bm25.Tokenize(query.Text)
	var results []Result
	for _, hit := range bm25.New(documents).Search(query.Text, 0) {
		record := byRun[hit.ID]
		var texts []string
		for _, field := range evidenceFields(record) {
			texts = append(texts, field.Text)
		}
		results = append(results, Result{
			Content:    evidenceContent(record),
			Score:      confidence(hit, queryTerms, termSet(texts...)),
			Tier:       Specialized,
			TrustScore: DefaultTrust[Specialized],
			Source:     "evidence:" + record.RunID,
			Category:   record.Agent,
		})
	}
	return results, nil
}

func evidenceFields(record *evidence.Record) []bm25.Field {
	fields := []bm25.Field{
		{Text: strings.Join(record.Conclusions, " "), Weight: weightConclusion},
		{Text: strings.Join(record.Recommendations, " "), Weight: weightRecommendation},
	}
	for _, observation := range record.Observations {
		fields = append(fields, bm25.Field{Text: observation.Summary, Weight: weightObservation})
	}
	return fields
}

func evidenceContent(record *evidence.Record) string {
	var content strings.Builder
	fmt.Fprintf(&content, "%s at %s (%s)", record.Agent, record.Timestamp.UTC().Format("2006-01-02 15:04:05Z"), record.Status)
	for _, conclusion := range record.Conclusions {
		content.WriteString("\nconcluded: " + conclusion)
	}
	for _, recommendation := range record.Recommendations {
		content.WriteString("\nrecommended: " + recommendation)
	}
	return content.String()
}
