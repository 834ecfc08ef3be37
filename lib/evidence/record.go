// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

var (
	// ErrExists is returned by Store.Put for a run identifier the
	// store already holds.
	ErrExists = errors.New("evidence: record already exists")

	// ErrNotFound is returned by Store.Get for an unknown run.
	ErrNotFound = errors.New("evidence: record not found")

	// ErrDigestMismatch means a record's content does not hash to its
	// recorded digest.
	ErrDigestMismatch = errors.New("evidence: digest mismatch")

	// ErrSealed is returned by Builder.Seal after the first call.
	ErrSealed = errors.New("evidence: record already sealed")
)

// Record is the evidence one agent run leaves behind.
type Record struct {
	Agent       string    `json:"agent"`
	RunID       string    `json:"run_id"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy Trigger   `json:"triggered_by"`

	Observations    []Observation `json:"observations,omitempty"`
	Conclusions     []string      `json:"conclusions,omitempty"`
	ActionsTaken    []Action      `json:"actions_taken,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	NextSteps       []string      `json:"next_steps,omitempty"`

	Status Status `json:"status"`

	// Error explains a run that did not complete.
	Error string `json:"error,omitempty"`

	// RelatedEvidence is the run this record corrects or follows up.
	RelatedEvidence string `json:"related_evidence,omitempty"`

	// EscalationIDs lists escalations the run opened or executed.
	EscalationIDs []string `json:"escalation_ids,omitempty"`

	// Digest is the hex BLAKE3 keyed hash of the content.
	Digest string `json:"digest,omitempty"`

	// Tier is set by stores on read. It is not part of the content.
	Tier Tier `json:"tier,omitempty"`
}

// Observation is one fact the agent gathered.
type Observation struct {
	Source  Source         `json:"source"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Action is one state-changing tool call, executed or not.
type Action struct {
	Action string       `json:"action"`
	Target string       `json:"target"`
	Result ActionResult `json:"result"`

	Reversible   bool   `json:"reversible,omitempty"`
	RollbackHint string `json:"rollback_hint,omitempty"`

	// Params are the arguments the tool ran with: for a ticketed
	// call, the recommended parameters merged with the approver's
	// overrides.
	Params map[string]any `json:"params,omitempty"`

	// EscalationID links the approval behind the action, or the
	// escalation the call was parked on.
	EscalationID string `json:"escalation_id,omitempty"`

	// Detail is the tool error or denial reason for a non-success.
	Detail string `json:"detail,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (r *Record) Validate() error {
	if r.Agent == "" {
		return fmt.Errorf("evidence: record has no agent")
	}
	if r.RunID == "" {
		return fmt.Errorf("evidence: record has no run_id")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("evidence: record %s has no timestamp", r.RunID)
	}
	if _, err := r.TriggeredBy.MarshalText(); err != nil {
		return fmt.Errorf("record %s: %w", r.RunID, err)
	}
	if _, err := r.Status.MarshalText(); err != nil {
		return fmt.Errorf("record %s: %w", r.RunID, err)
	}
	for i, action := range r.ActionsTaken {
		if _, err := action.Result.MarshalText(); err != nil {
			return fmt.Errorf("record %s: actions_taken[%d]: %w", r.RunID, i, err)
		}
	}
	return nil
}

// Clone returns a copy sharing no slices or top-level maps with r.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Observations = slices.Clone(r.Observations)
	for i := range clone.Observations {
		clone.Observations[i].Data = maps.Clone(clone.Observations[i].Data)
	}
	clone.Conclusions = slices.Clone(r.Conclusions)
	clone.ActionsTaken = slices.Clone(r.ActionsTaken)
	for i := range clone.ActionsTaken {
		clone.ActionsTaken[i].Params = maps.Clone(clone.ActionsTaken[i].Params)
	}
	clone.Recommendations = slices.Clone(r.Recommendations)
	clone.NextSteps = slices.Clone(r.NextSteps)
	clone.EscalationIDs = slices.Clone(r.EscalationIDs)
	return &clone
}

// summarized returns the summary-tier view of r.
func (r *Record) summarized() *Record {
	summary := r.Clone()
	summary.Observations = nil
	summary.ActionsTaken = nil
	summary.Tier = TierSummary
	return summary
}
