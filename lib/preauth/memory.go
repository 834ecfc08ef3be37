// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters keeps firing history in memory. One mutex covers
// every key.
type MemoryCounters struct {
	mu      sync.Mutex
	firings map[Key][]time.Time
}

// NewMemoryCounters returns an empty store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{firings: make(map[Key][]time.Time)}
}

func (c *MemoryCounters) TryAdmit(ctx context.Context, key Key, now time.Time, limit Limit) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := prune(c.firings[key], now.Add(-limit.Window))
	outcome := decide(history, now, limit)
	if outcome.Result == Admitted {
		history = append(history, now)
	}
	if len(history) == 0 {
		delete(c.firings, key)
	} else {
		c.firings[key] = history
	}
	return outcome, nil
}

func (c *MemoryCounters) Count(ctx context.Context, key Key, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, firedAt := range c.firings[key] {
		if firedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// prune drops firings at or before cutoff. History is kept oldest
// first.
func prune(history []time.Time, cutoff time.Time) []time.Time {
	for i, firedAt := range history {
		if firedAt.After(cutoff) {
			return history[i:]
		}
	}
	return nil
}
