// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultQueryLimit bounds Query when Filter.Limit is not positive.
const DefaultQueryLimit = 100

// Store persists records. Implementations are safe for concurrent use.
type Store interface {
	// Put writes a new record. A record whose digest is empty is
	// stamped with one; a non-empty digest must match the content.
	// A run identifier already present fails with ErrExists.
	Put(ctx context.Context, record *Record) error

	// Get returns the record for runID, or ErrNotFound.
	Get(ctx context.Context, runID string) (*Record, error)

	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Record, error)
}

// Filter selects records. Zero fields do not filter.
type Filter struct {
	Agent string

	// Since and Until bound the record timestamp, inclusive.
	Since time.Time
	Until time.Time

	// Conclusion matches records with a conclusion containing this
	// text, ignoring case.
	Conclusion string

	Status Status

	// Escalation matches records linked to this escalation.
	Escalation string

	Limit int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

func (f Filter) matches(r *Record) bool {
	if f.Agent != "" && r.Agent != f.Agent {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	if f.Status != 0 && r.Status != f.Status {
		return false
	}
	if f.Escalation != "" && !slices.Contains(r.EscalationIDs, f.Escalation) {
		return false
	}
	if f.Conclusion != "" {
		needle := strings.ToLower(f.Conclusion)
		found := slices.ContainsFunc(r.Conclusions, func(conclusion string) bool {
			return strings.Contains(strings.ToLower(conclusion), needle)
		})
		if !found {
			return false
		}
	}
	return true
}

// prepare validates record and stamps or checks its digest.
func prepare(record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.Tier != TierFull {
		return fmt.Errorf("evidence: record %s is a %s view and cannot be stored", record.RunID, record.Tier)
	}
	if record.Digest == "" {
		digest, err := ComputeDigest(record)
		if err != nil {
			return err
		}
		record.Digest = digest
		return nil
	}
	return VerifyDigest(record)
}

// Correct stores correction as a follow-up to the record originalRunID.
// The original stays untouched; the correction's RelatedEvidence is
// set to it and its digest recomputed.
func Correct(ctx context.Context, store Store, originalRunID string, correction *Record) error {
	if _, err := store.Get(ctx, originalRunID); err != nil {
		return fmt.Errorf("evidence: correcting %s: %w", originalRunID, err)
	}
	if correction.RunID == originalRunID {
		return fmt.Errorf("evidence: correction of %s must have its own run_id: %w", originalRunID, ErrExists)
	}
	correction.RelatedEvidence = originalRunID
	correction.Digest = ""
	return store.Put(ctx, correction)
}
