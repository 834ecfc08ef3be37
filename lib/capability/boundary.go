// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/overwatch-ops/overwatch/lib/authz"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

// Recorder receives the outcome of every state-changing call.
// *evidence.Builder implements it.
type Recorder interface {
	Act(action evidence.Action) bool
	LinkEscalation(id string) bool
}

// BoundaryConfig holds the parameters for NewBoundary.
type BoundaryConfig struct {
	// Agent, RunID, and TriggeredBy identify the calling run.
	Agent       string
	RunID       string
	TriggeredBy string

	// Context is evaluated against permission conditions.
	Context map[string]string

	// Ticket is the execution ticket the run was started with.
	Ticket string

	Tools    Toolset
	Gate     authz.Gate
	Recorder Recorder
	Logger   *slog.Logger
}

// Boundary mediates one run's tool calls. It is safe for concurrent
// use.
type Boundary struct {
	cfg    BoundaryConfig
	logger *slog.Logger

	mu      sync.Mutex
	refused map[callKey]string
	closed  bool

	// calls counts tool functions that are executing.
	calls sync.WaitGroup
}

type callKey struct {
	tool  string
	scope string
}

// NewBoundary returns a boundary for one run.
func NewBoundary(cfg BoundaryConfig) *Boundary {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Boundary{
		cfg:     cfg,
		logger:  logger.With("agent", cfg.Agent, "run_id", cfg.RunID),
		refused: make(map[callKey]string),
	}
}

// Has reports whether tool was bound to the agent.
func (b *Boundary) Has(tool string) bool {
	_, ok := b.cfg.Tools[tool]
	return ok
}

// Close ends the run's access and waits for calls already executing
// to return and be recorded. Later calls, including those the gate is
// still deciding, fail with a *authz.DeniedError without running.
func (b *Boundary) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.calls.Wait()
}

// Invoke calls tool against scope. It returns ErrToolNotAvailable for
// an unbound tool, *authz.DeniedError or *authz.PendingError when the
// gate does not allow the call, and the tool's own error, wrapped,
// when the tool fails.
func (b *Boundary) Invoke(ctx context.Context, name, scope string, args map[string]any) (Result, error) {
	tool, ok := b.cfg.Tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotAvailable, name)
	}

	request := authz.Request{
		Agent:       b.cfg.Agent,
		RunID:       b.cfg.RunID,
		TriggeredBy: b.cfg.TriggeredBy,
		Tool:        name,
		Kind:        tool.Kind,
		Scope:       scope,
		Context:     b.cfg.Context,
		Ticket:      b.cfg.Ticket,
		Args:        args,
	}

	key := callKey{tool: name, scope: scope}
	b.mu.Lock()
	closed := b.closed
	_, refusedBefore := b.refused[key]
	b.mu.Unlock()
	if closed {
		return Result{}, authz.Decision{Reason: authz.ReasonRunFinished}.Err(request)
	}
	if refusedBefore {
		return Result{}, authz.Decision{Reason: authz.ReasonAlreadyDenied}.Err(request)
	}

	decision, err := b.cfg.Gate.Check(ctx, request)
	if err != nil {
		b.record(tool, request, evidence.Action{Result: evidence.Skipped, Params: args, Detail: err.Error()})
		return Result{}, fmt.Errorf("capability: authorizing %s on %s: %w", name, scope, err)
	}

	if !decision.Allowed {
		b.mu.Lock()
		b.refused[key] = decision.Reason
		b.mu.Unlock()

		if decision.EscalationID != "" && b.cfg.Recorder != nil {
			b.cfg.Recorder.LinkEscalation(decision.EscalationID)
		}
		b.record(tool, request, evidence.Action{
			Result:       evidence.Skipped,
			Params:       args,
			EscalationID: decision.EscalationID,
			Detail:       decision.Reason,
		})
		b.logger.Info("tool call refused",
			"tool", name,
			"scope", scope,
			"reason", decision.Reason,
			"request_id", decision.EscalationID,
		)
		return Result{}, decision.Err(request)
	}

	params := args
	if decision.Params != nil {
		params = maps.Clone(decision.Params)
	}
	if decision.EscalationID != "" && b.cfg.Recorder != nil {
		b.cfg.Recorder.LinkEscalation(decision.EscalationID)
	}

	b.mu.Lock()
	if b.closed || ctx.Err() != nil {
		b.mu.Unlock()
		b.record(tool, request, evidence.Action{
			Result:       evidence.Skipped,
			Params:       params,
			EscalationID: decision.EscalationID,
			Detail:       authz.ReasonRunFinished,
		})
		b.logger.Info("tool call dropped after run finished", "tool", name, "scope", scope)
		return Result{}, authz.Decision{Reason: authz.ReasonRunFinished}.Err(request)
	}
	b.calls.Add(1)
	b.mu.Unlock()
	defer b.calls.Done()

	result, err := tool.Func(ctx, scope, params)
	if err != nil {
		b.record(tool, request, evidence.Action{
			Result:       evidence.Failure,
			Params:       params,
			EscalationID: decision.EscalationID,
			Detail:       err.Error(),
		})
		b.logger.Warn("tool call failed", "tool", name, "scope", scope, "error", err)
		return Result{}, fmt.Errorf("capability: %s on %s: %w", name, scope, err)
	}

	b.record(tool, request, evidence.Action{
		Result:       evidence.Success,
		Params:       params,
		EscalationID: decision.EscalationID,
		Reversible:   result.Reversible,
		RollbackHint: result.RollbackHint,
		Detail:       result.Summary,
	})
	if tool.Kind == authz.StateChanging {
		b.logger.Info("state-changing tool call succeeded",
			"tool", name,
			"scope", scope,
			"reason", decision.Reason,
			"policy_id", decision.PolicyID,
		)
	}
	return result, nil
}

// record passes a state-changing outcome to the recorder.
func (b *Boundary) record(tool Tool, request authz.Request, action evidence.Action) {
	if tool.Kind != authz.StateChanging || b.cfg.Recorder == nil {
		return
	}
	action.Action = request.Tool
	action.Target = request.Scope
	b.cfg.Recorder.Act(action)
}

// IsRefusal reports whether err is a gate refusal: a denial or a call
// parked behind an escalation.
func IsRefusal(err error) bool {
	var denied *authz.DeniedError
	var pending *authz.PendingError
	return errors.As(err, &denied) || errors.As(err, &pending)
}
