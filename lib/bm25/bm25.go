// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	k1 = 1.2
	b  = 0.75

	// idfFloor replaces the negative IDF of terms found in more than
	// half the corpus.
	idfFloor = 0.25
)

var wordPattern = regexp.MustCompile(`[a-z0-9][a-z0-9_.-]*[a-z0-9]|[a-z0-9]`)

// stopWords carry no ranking signal in operational prose.
var stopWords = map[string]struct{}{
	"an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "if": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "this": {}, "to": {}, "was": {}, "with": {},
}

// Field is weighted text. Fields with Weight < 1 are ignored.
type Field struct {
	Text   string
	Weight int
}

// Document is one searchable unit. ID identifies it in results.
type Document struct {
	ID     string
	Fields []Field
}

// Result is one ranked hit.
type Result struct {
	ID string

	// Score is the raw BM25 score; its scale depends on the corpus.
	Score float64

	// Relative is Score divided by the best score of the same search,
	// in (0, 1].
	Relative float64
}

type posting struct {
	document  int
	frequency int
}

// Index is an inverted index over a fixed document set.
type Index struct {
	ids           []string
	lengths       []float64
	averageLength float64
	postings      map[string][]posting
	idf           map[string]float64
}

// New indexes documents.
func New(documents []Document) *Index {
	index := &Index{
		ids:      make([]string, len(documents)),
		lengths:  make([]float64, len(documents)),
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
	}

	var total float64
	for i, document := range documents {
		index.ids[i] = document.ID
		counts := make(map[string]int)
		length := 0
		for _, field := range document.Fields {
			if field.Weight < 1 {
				continue
			}
			for _, term := range Tokenize(field.Text) {
				counts[term] += field.Weight
				length += field.Weight
			}
		}
		index.lengths[i] = float64(length)
		total += float64(length)
		for term, frequency := range counts {
			index.postings[term] = append(index.postings[term], posting{document: i, frequency: frequency})
		}
	}
	if len(documents) > 0 {
		index.averageLength = total / float64(len(documents))
	}

	n := float64(len(documents))
	for term, list := range index.postings {
		df := float64(len(list))
		idf := math.Log((n - df + 0.5) / (df + 0.5))
		if idf < idfFloor {
			idf = idfFloor
		}
		index.idf[term] = idf
	}
	return index
}

// Len returns the number of indexed documents.
func (index *Index) Len() int { return len(index.ids) }

// Search returns up to limit hits (all when limit <= 0) in descending
// score order, ties broken by ID. A query with no indexable terms
// returns nil.
func (index *Index) Search(query string, limit int) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 || index.averageLength == 0 {
		return nil
	}

	scores := make(map[int]float64)
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		idf := index.idf[term]
		for _, entry := range index.postings[term] {
			tf := float64(entry.frequency)
			norm := k1 * (1 - b + b*index.lengths[entry.document]/index.averageLength)
			scores[entry.document] += idf * tf * (k1 + 1) / (tf + norm)
		}
	}
	if len(scores) == 0 {
		return nil
	}

	results := make([]Result, 0, len(scores))
	for document, score := range scores {
		results = append(results, Result{ID: index.ids[document], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	best := results[0].Score
	for i := range results {
		results[i].Relative = results[i].Score / best
	}
	return results
}

// Tokenize lowercases text and splits it into terms. Dotted and
// hyphenated identifiers (nginx.conf, db-primary) stay whole; stop
// words are dropped.
func Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	terms := words[:0]
	for _, word := range words {
		if _, stop := stopWords[word]; stop {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}
