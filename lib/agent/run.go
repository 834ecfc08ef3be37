// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/knowledge"
)

var (
	// ErrNoKnowledge is returned by Query when the runner has no
	// knowledge service.
	ErrNoKnowledge = errors.New("agent: no knowledge service configured")

	// ErrNoTrigger is returned by TriggerAgent when the runner was
	// built without a TriggerFunc.
	ErrNoTrigger = errors.New("agent: agent-to-agent triggers are not configured")
)

// errRunFinished is returned by Escalate, TriggerAgent, and Query once the run has
// been sealed.
var errRunFinished = errors.New("agent: run has finished")

// Run is an agent's handle on one execution.
type Run struct {
	agent    string
	id       string
	params   Params
	builder  *evidence.Builder
	boundary *capability.Boundary

	escalations Escalations
	knowledge   knowledge.Service
	trigger     TriggerFunc
	logger      *slog.Logger

	finished atomic.Bool
}

// ID returns the run identifier, which is also the evidence id.
func (r *Run) ID() string { return r.id }

// Agent returns the running agent's name.
func (r *Run) Agent() string { return r.agent }

// Params returns the invocation parameters.
func (r *Run) Params() Params { return r.params }

// Evidence returns the run's evidence builder. Writes after the run
// has finished are dropped.
func (r *Run) Evidence() *evidence.Builder { return r.builder }

// Logger returns a logger tagged with the agent and run id.
func (r *Run) Logger() *slog.Logger { return r.logger }

// Has reports whether tool is bound for this run.
func (r *Run) Has(tool string) bool { return r.boundary.Has(tool) }

// Invoke calls a tool through the capability boundary. Refusals come
// back as *authz.DeniedError or *authz.PendingError.
func (r *Run) Invoke(ctx context.Context, tool, scope string, args map[string]any) (capability.Result, error) {
	return r.boundary.Invoke(ctx, tool, scope, args)
}

// Escalate asks a human to authorize input.TargetAgent. The source
// agent and evidence id are filled in from the run, and the new
// request is linked from the run's evidence.
func (r *Run) Escalate(ctx context.Context, input escalation.CreateInput) (*escalation.Request, error) {
	if r.finished.Load() {
		return nil, errRunFinished
	}
	input.SourceAgent = r.agent
	input.SourceEvidenceID = r.id
	request, err := r.escalations.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	r.builder.LinkEscalation(request.ID)
	return request, nil
}

// TriggerAgent asks for target to run now, triggered by this agent.
// It reports false when target was already running and the request
// was skipped. The request is noted in the evidence's next steps.
func (r *Run) TriggerAgent(target string, facts map[string]string, args map[string]any) (bool, error) {
	if r.finished.Load() {
		return false, errRunFinished
	}
	if r.trigger == nil {
		return false, ErrNoTrigger
	}
	started, err := r.trigger(target, Params{
		Trigger: evidence.ByAgent(r.agent),
		Context: facts,
		Args:    args,
	})
	if err != nil {
		return false, fmt.Errorf("agent: triggering %s: %w", target, err)
	}
	if started {
		r.builder.NextStep("triggered " + target)
	} else {
		r.builder.NextStep("trigger for " + target + " skipped: already running")
	}
	return started, nil
}

// Query asks the knowledge service.
func (r *Run) Query(ctx context.Context, query knowledge.Query) ([]knowledge.Result, error) {
	if r.finished.Load() {
		return nil, errRunFinished
	}
	if r.knowledge == nil {
		return nil, ErrNoKnowledge
	}
	results, err := r.knowledge.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent: knowledge query: %w", err)
	}
	return results, nil
}

// finish cuts the run off from tools and escalations.
func (r *Run) finish() {
	r.finished.Store(true)
	r.boundary.Close()
}
