// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/overwatch-ops/overwatch/lib/authz"
	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/knowledge"
)

// Escalations is the part of the escalation manager a run uses.
// *escalation.Manager implements it.
type Escalations interface {
	Create(ctx context.Context, input escalation.CreateInput) (*escalation.Request, error)
	LinkExecution(ctx context.Context, id, runID string) error
}

// TriggerFunc starts an agent outside its schedule. It reports false
// when the agent was already running. (*scheduler.Scheduler).Trigger
// has this signature.
type TriggerFunc func(name string, params Params) (bool, error)

// Invocation asks the runner to run one agent once.
type Invocation struct {
	Agent  string
	Params Params
}

// RunnerConfig holds the parameters for NewRunner.
type RunnerConfig struct {
	Agents      *Registry
	Tools       *capability.Registry
	Gate        authz.Gate
	Evidence    evidence.Store
	Escalations Escalations
	Clock       clock.Clock

	// Knowledge is optional.
	Knowledge knowledge.Service

	// Trigger lets agents start other agents. Optional.
	Trigger TriggerFunc

	// Timeout bounds each run. Zero means no limit.
	Timeout time.Duration

	Logger *slog.Logger
}

// Runner executes agents and records their evidence.
type Runner struct {
	cfg    RunnerConfig
	runIDs evidence.RunIDs
	logger *slog.Logger
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	var missing []string
	if cfg.Agents == nil {
		missing = append(missing, "Agents")
	}
	if cfg.Tools == nil {
		missing = append(missing, "Tools")
	}
	if cfg.Gate == nil {
		missing = append(missing, "Gate")
	}
	if cfg.Evidence == nil {
		missing = append(missing, "Evidence")
	}
	if cfg.Escalations == nil {
		missing = append(missing, "Escalations")
	}
	if cfg.Clock == nil {
		missing = append(missing, "Clock")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("agent: runner config is missing %v", missing)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Execute runs the invocation to completion, timeout, or failure and
// returns its persisted evidence. The run's own failure is reported
// in the record's status; Execute returns an error only for an
// unknown agent or when the evidence could not be stored.
func (r *Runner) Execute(ctx context.Context, invocation Invocation) (*evidence.Record, error) {
	agent, ok := r.cfg.Agents.Get(invocation.Agent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, invocation.Agent)
	}
	params := invocation.Params
	if params.Trigger.IsZero() {
		params.Trigger = evidence.Adhoc()
	}

	name := agent.Name()
	started := r.cfg.Clock.Now()
	runID := r.runIDs.Next(name, started)
	logger := r.logger.With("agent", name, "run_id", runID)
	builder := evidence.NewBuilder(r.cfg.Clock, name, runID, params.Trigger)
	if params.EscalationID != "" {
		builder.LinkEscalation(params.EscalationID)
	}

	logger.Info("run starting", "trigger", params.Trigger.String(), "request_id", params.EscalationID)
	status, runErr := r.run(ctx, agent, runID, params, builder, logger)

	record, err := builder.Seal(status, runErr)
	if err != nil {
		return nil, fmt.Errorf("agent: sealing %s: %w", runID, err)
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := r.store(persistCtx, record, started, logger); err != nil {
		return record, err
	}
	runID = record.RunID
	if params.EscalationID != "" {
		if err := r.cfg.Escalations.LinkExecution(persistCtx, params.EscalationID, runID); err != nil {
			logger.Warn("linking execution to escalation failed", "request_id", params.EscalationID, "error", err)
		}
	}

	attrs := []any{"status", status.String(), "actions", len(record.ActionsTaken), "escalations", len(record.EscalationIDs)}
	if runErr != nil {
		attrs = append(attrs, "error", runErr)
	}
	logger.Info("run finished", attrs...)
	return record, nil
}

// maxRunIDAttempts bounds how many identifiers store tries when
// another process has already written records for the same second.
const maxRunIDAttempts = 16

// store persists record. A run identifier the store already holds,
// written by another runner sharing it, is replaced by the next free
// suffix and the record is restamped.
func (r *Runner) store(ctx context.Context, record *evidence.Record, started time.Time, logger *slog.Logger) error {
	for attempt := 1; ; attempt++ {
		err := r.cfg.Evidence.Put(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, evidence.ErrExists) || attempt == maxRunIDAttempts {
			return fmt.Errorf("agent: storing evidence %s: %w", record.RunID, err)
		}
		taken := record.RunID
		record.RunID = r.runIDs.Next(record.Agent, started)
		record.Digest = ""
		logger.Warn("run id already stored, renaming", "taken", taken, "new_run_id", record.RunID)
	}
}

// run executes the agent and maps its outcome to an evidence status.
func (r *Runner) run(ctx context.Context, agent Agent, runID string, params Params, builder *evidence.Builder, logger *slog.Logger) (evidence.Status, error) {
	tools, err := r.cfg.Tools.Bind(agent.Name(), agent.RequiredTools(), agent.OptionalTools())
	if err != nil {
		return evidence.Failed, err
	}
	if err := agent.ValidateContext(params); err != nil {
		return statusFor(err), err
	}

	run := &Run{
		agent:   agent.Name(),
		id:      runID,
		params:  params,
		builder: builder,
		boundary: capability.NewBoundary(capability.BoundaryConfig{
			Agent:       agent.Name(),
			RunID:       runID,
			TriggeredBy: params.Trigger.String(),
			Context:     params.Context,
			Ticket:      params.Ticket,
			Tools:       tools,
			Gate:        r.cfg.Gate,
			Recorder:    builder,
			Logger:      r.logger,
		}),
		escalations: r.cfg.Escalations,
		knowledge:   r.cfg.Knowledge,
		trigger:     r.cfg.Trigger,
		logger:      logger,
	}
	defer run.finish()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("agent panicked", "panic", recovered, "stack", string(debug.Stack()))
				done <- fmt.Errorf("agent: %s panicked: %v", agent.Name(), recovered)
			}
		}()
		done <- agent.Run(runCtx, run)
	}()

	timedOut := make(chan struct{})
	if r.cfg.Timeout > 0 {
		timer := r.cfg.Clock.AfterFunc(r.cfg.Timeout, func() { close(timedOut) })
		defer timer.Stop()
	}

	select {
	case err := <-done:
		if err != nil {
			return statusFor(err), err
		}
		return evidence.Completed, nil
	case <-timedOut:
		logger.Warn("run timed out", "timeout", r.cfg.Timeout)
		return evidence.TimedOut, fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
	case <-ctx.Done():
		return evidence.Failed, fmt.Errorf("agent: run interrupted: %w", context.Cause(ctx))
	}
}

func statusFor(err error) evidence.Status {
	if errors.Is(err, ErrInvalidContext) {
		return evidence.InvalidContext
	}
	return evidence.Failed
}
