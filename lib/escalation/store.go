// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists requests. Implementations are safe for concurrent
// use and return copies, never shared pointers.
type Store interface {
	// Insert adds a new request.
	Insert(ctx context.Context, request *Request) error

	// Get returns the request, or ErrNotFound.
	Get(ctx context.Context, id string) (*Request, error)

	// Update applies fn to the current state of the request and
	// persists the result, atomically with respect to every other
	// Update of the same request. If fn returns an error nothing is
	// written and Update returns that error.
	Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error)

	// List returns matching requests ordered by severity, then
	// creation time.
	List(ctx context.Context, filter Filter) ([]*Request, error)
}

// sortRequests orders by severity, most severe first, then oldest
// first.
func sortRequests(requests []*Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].Severity != requests[j].Severity {
			return requests[i].Severity < requests[j].Severity
		}
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})
}

// MemoryStore keeps requests in memory.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Insert(ctx context.Context, request *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return fmt.Errorf("escalation: request %s already exists", request.ID)
	}
	s.requests[request.ID] = request.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return request.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.requests[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Request, error) {
	s.mu.Lock()
	var matched []*Request
	for _, request := range s.requests {
		if filter.matches(request) {
			matched = append(matched, request.Clone())
		}
	}
	s.mu.Unlock()

	sortRequests(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
