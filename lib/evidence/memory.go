// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in memory. Records are copied in and out,
// so callers cannot alter stored content.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Put(ctx context.Context, record *Record) error {
	if err := prepare(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.RunID]; exists {
		return ErrExists
	}
	s.records[record.RunID] = record.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	var matched []*Record
	for _, record := range s.records {
		if filter.matches(record) {
			matched = append(matched, record.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].RunID > matched[j].RunID
	})
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
