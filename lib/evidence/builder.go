// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"slices"
	"sync"

	"github.com/overwatch-ops/overwatch/lib/clock"
)

// Builder accumulates one run's record. Methods are safe for
// concurrent use and report whether the write was kept: once Seal has
// been called every write is dropped.
type Builder struct {
	clock clock.Clock

	mu     sync.Mutex
	record Record
	sealed bool
}

// NewBuilder starts a record for agent's run runID, stamped with the
// clock's current time.
func NewBuilder(clk clock.Clock, agent, runID string, trigger Trigger) *Builder {
	return &Builder{
		clock: clk,
		record: Record{
			Agent:       agent,
			RunID:       runID,
			Timestamp:   clk.Now().UTC(),
			TriggeredBy: trigger,
		},
	}
}

// RunID returns the identifier of the run being recorded.
func (b *Builder) RunID() string { return b.record.RunID }

// Observe records a fact the agent gathered.
func (b *Builder) Observe(source Source, summary string, data map[string]any) bool {
	at := b.clock.Now().UTC()
	return b.update(func(r *Record) {
		r.Observations = append(r.Observations, Observation{
			Source:  source,
			Summary: summary,
			Data:    data,
			At:      at,
		})
	})
}

// Conclude records a conclusion. Conclusions keep their order.
func (b *Builder) Conclude(conclusion string) bool {
	return b.update(func(r *Record) { r.Conclusions = append(r.Conclusions, conclusion) })
}

// Act records a state-changing action and its outcome.
func (b *Builder) Act(action Action) bool {
	return b.update(func(r *Record) { r.ActionsTaken = append(r.ActionsTaken, action) })
}

// Recommend records advice for a human or another agent.
func (b *Builder) Recommend(recommendation string) bool {
	return b.update(func(r *Record) { r.Recommendations = append(r.Recommendations, recommendation) })
}

// NextStep records a follow-up.
func (b *Builder) NextStep(step string) bool {
	return b.update(func(r *Record) { r.NextSteps = append(r.NextSteps, step) })
}

// LinkEscalation records an escalation the run opened or executed.
// Repeated links are kept once.
func (b *Builder) LinkEscalation(id string) bool {
	return b.update(func(r *Record) {
		if !slices.Contains(r.EscalationIDs, id) {
			r.EscalationIDs = append(r.EscalationIDs, id)
		}
	})
}

// Relate points the record at an earlier run it follows up.
func (b *Builder) Relate(runID string) bool {
	return b.update(func(r *Record) { r.RelatedEvidence = runID })
}

// Escalations returns the escalations linked so far.
func (b *Builder) Escalations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.record.EscalationIDs)
}

// Seal ends the record with status and, for a run that did not
// complete, the error that ended it. It computes the digest and
// returns the finished record. Only the first call succeeds.
func (b *Builder) Seal(status Status, runErr error) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return nil, ErrSealed
	}
	b.sealed = true

	b.record.Status = status
	if runErr != nil {
		b.record.Error = runErr.Error()
	}
	if err := b.record.Validate(); err != nil {
		return nil, err
	}
	digest, err := ComputeDigest(&b.record)
	if err != nil {
		return nil, err
	}
	b.record.Digest = digest
	return b.record.Clone(), nil
}

func (b *Builder) update(apply func(*Record)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return false
	}
	apply(&b.record)
	return true
}
