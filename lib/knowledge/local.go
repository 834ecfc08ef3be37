// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/bm25"
)

// Field weights for passages. Heading terms count three times.
const (
	weightHeading = 3
	weightBody    = 1
)

// GeneralCategory is the category of documents at the top of the
// indexed directory.
const GeneralCategory = "general"

// passage is one heading-delimited section of a document.
type passage struct {
	source   string
	category string
	heading  string
	body     string
	terms    map[string]struct{}
}

// LocalIndex serves the internal tier from a directory of markdown
// and text files. Each file is split into passages at markdown
// headings; a file's subdirectory under the root is its category.
// The index is immutable once loaded.
type LocalIndex struct {
	passages map[string]*passage
	index    *bm25.Index
}

var _ Source = (*LocalIndex)(nil)

// LoadLocalIndex indexes every .md, .markdown, and .txt file under
// root.
func LoadLocalIndex(root string) (*LocalIndex, error) {
	if root == "" {
		return nil, fmt.Errorf("knowledge: documents directory is required")
	}
	local := &LocalIndex{passages: make(map[string]*passage)}
	var documents []bm25.Document

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown", ".txt":
		default:
			return nil
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		category := GeneralCategory
		if directory, _, nested := strings.Cut(relative, "/"); nested {
			category = directory
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, section := range splitPassages(data) {
			id := fmt.Sprintf("%s#%d", relative, i)
			source := relative
			if section.heading != "" {
				source += "#" + section.heading
			}
			local.passages[id] = &passage{
				source:   source,
				category: category,
				heading:  section.heading,
				body:     section.body,
				terms:    termSet(section.heading, section.body),
			}
			documents = append(documents, bm25.Document{ID: id, Fields: []bm25.Field{
				{Text: section.heading, Weight: weightHeading},
				{Text: section.body, Weight: weightBody},
			}})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: indexing %s: %w", root, err)
	}
	local.index = bm25.New(documents)
	return local, nil
}

// Len returns the number of indexed passages.
func (l *LocalIndex) Len() int { return l.index.Len() }

func (l *LocalIndex) Tier() Tier { return Internal }

func (l *LocalIndex) Search(ctx context.Context, query Query) ([]Result, error) {
	queryTerms := bm25.Tokenize(query.Text)
	var results []Result
	for _, hit := range l.index.Search(query.Text, 0) {
		found := l.passages[hit.ID]
		content := found.body
		if found.heading != "" {
			content = found.heading + "\n\n" + found.body
		}
		results = append(results, Result{
			Content:    content,
			Score:      confidence(hit, queryTerms, found.terms),
			Tier:       Internal,
			TrustScore: DefaultTrust[Internal],
			Source:     found.source,
			Category:   found.category,
		})
	}
	return results, nil
}

type section struct {
	heading string
	body    string
}

// splitPassages cuts a document at markdown headings. Text before the
// first heading is a passage with no heading. Empty sections are
// dropped.
func splitPassages(data []byte) []section {
	var sections []section
	current := section{}
	var body strings.Builder
	flush := func() {
		current.body = strings.TrimSpace(body.String())
		if current.heading != "" || current.body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if heading, ok := markdownHeading(line); ok {
			flush()
			current = section{heading: heading}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

func markdownHeading(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, "#")
	level := len(line) - len(trimmed)
	if level == 0 || level > 6 || !strings.HasPrefix(trimmed, " ") {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}
