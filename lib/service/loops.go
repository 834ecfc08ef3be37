// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/scheduler"
)

// every calls fn at each tick of interval until ctx is cancelled. A
// failing pass is logged and retried at the next tick; the loop never
// ends on its own.
func (s *Service) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error(name+" pass failed", "error", err, "retry_in", interval)
		}
	}
}

// Sweep expires pending escalations whose deadline has passed.
func (s *Service) Sweep(ctx context.Context) error {
	expired, err := s.escalations.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		s.logger.Info("escalations expired", "count", len(expired), "request_ids", expired)
	}
	return nil
}

// DispatchApproved claims every approved escalation not yet handed
// to its target agent and dispatches a ticketed run for each. Each
// request is claimed exactly once, so a restart never runs an
// approval twice.
func (s *Service) DispatchApproved(ctx context.Context) error {
	if s.scheduler == nil {
		return ErrNoAgents
	}
	if s.scheduler.Stopping() {
		return scheduler.ErrStopped
	}
	claimed, err := s.escalations.ClaimApproved(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for i, request := range claimed {
		if request.Ticket == nil {
			errs = append(errs, fmt.Errorf("service: approved request %s has no ticket", request.ID))
			continue
		}
		invocation := agent.Invocation{
			Agent: request.TargetAgent,
			Params: agent.Params{
				Trigger:      evidence.ByAgent(request.SourceAgent),
				Context:      maps.Clone(request.Context),
				Args:         maps.Clone(request.Ticket.Params),
				EscalationID: request.ID,
				Ticket:       request.Ticket.Token,
				Action:       request.TargetAction,
				Scope:        request.Scope,
			},
		}
		if err := s.scheduler.Dispatch(invocation); err != nil {
			s.release(ctx, request.ID)
			if errors.Is(err, scheduler.ErrStopped) {
				for _, rest := range claimed[i+1:] {
					s.release(ctx, rest.ID)
				}
				return err
			}
			errs = append(errs, fmt.Errorf("service: dispatching %s: %w", request.ID, err))
			continue
		}
		s.logger.Info("approved escalation dispatched",
			"request_id", request.ID,
			"agent", request.TargetAgent,
			"action", request.TargetAction,
			"scope", request.Scope,
			"approved_by", request.ResolvedBy,
		)
	}
	return errors.Join(errs...)
}

// release hands a claimed escalation back for the next dispatch pass.
func (s *Service) release(ctx context.Context, id string) {
	released, err := s.escalations.Release(context.WithoutCancel(ctx), id)
	if err != nil {
		s.logger.Error("releasing undispatched escalation failed", "request_id", id, "error", err)
		return
	}
	if !released {
		s.logger.Warn("escalation not released; it has already executed or changed state", "request_id", id)
	}
}

// releaseAbandoned is the scheduler's hook for dispatched runs that
// never started.
func (s *Service) releaseAbandoned(invocation agent.Invocation) {
	if invocation.Params.EscalationID == "" || invocation.Params.Ticket == "" {
		return
	}
	s.release(context.Background(), invocation.Params.EscalationID)
}

// Trigger starts an agent now, outside its schedule.
func (s *Service) Trigger(name string, params agent.Params) (bool, error) {
	if s.scheduler == nil {
		return false, ErrNoAgents
	}
	if _, ok := s.agents.Get(name); !ok {
		return false, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, name)
	}
	if params.Trigger.IsZero() {
		params.Trigger = evidence.Adhoc()
	}
	return s.scheduler.Trigger(name, params)
}

func (s *Service) retentionEnabled() bool {
	r := s.cfg.Retention
	return r.Interval > 0 && (r.CompressAfter > 0 || r.SummarizeAfter > 0 || r.IndexAfter > 0)
}

// Compact runs one retention pass over the evidence store.
func (s *Service) Compact(ctx context.Context) error {
	codec, err := evidence.ParseCodec(s.cfg.Retention.Compression)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	stats, err := s.evidence.Compact(ctx, evidence.RetentionPolicy{
		CompressAfter:  s.cfg.Retention.CompressAfter,
		SummarizeAfter: s.cfg.Retention.SummarizeAfter,
		IndexAfter:     s.cfg.Retention.IndexAfter,
		Codec:          codec,
	})
	if err != nil {
		return err
	}
	if stats.Compressed+stats.Summarized+stats.Indexed > 0 {
		s.logger.Info("evidence compacted",
			"compressed", stats.Compressed,
			"summarized", stats.Summarized,
			"indexed", stats.Indexed,
		)
	}
	return nil
}
