// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/config"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/knowledge"
	"github.com/overwatch-ops/overwatch/lib/policy"
	"github.com/overwatch-ops/overwatch/lib/preauth"
	"github.com/overwatch-ops/overwatch/lib/rbac"
	"github.com/overwatch-ops/overwatch/lib/scheduler"
	"github.com/overwatch-ops/overwatch/lib/sqlitepool"
)

// ErrNoAgents is returned by Run on a service opened without agents.
var ErrNoAgents = errors.New("service: opened without agents")

// Options holds the parameters for Open.
type Options struct {
	Config *config.Config

	// Agents and Tools enable the runner and scheduler. Both nil
	// opens the stores and the escalation manager only.
	Agents *agent.Registry
	Tools  *capability.Registry

	// Notifiers are added to the ones built from the configuration.
	Notifiers []escalation.Notifier

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Service is an assembled Overwatch.
type Service struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger

	pool        *sqlitepool.Pool
	evidence    *evidence.SQLiteStore
	escalations *escalation.Manager
	policies    *policy.Set
	preauth     *preauth.Engine
	enforcer    *rbac.Enforcer

	agents    *agent.Registry
	runner    *agent.Runner
	scheduler *scheduler.Scheduler
	knowledge *knowledge.Router

	closers []io.Closer
}

// Open validates the configuration and builds the service. On error
// everything opened so far is closed.
func Open(ctx context.Context, opts Options) (_ *Service, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("service: Config is required")
	}
	if (opts.Agents == nil) != (opts.Tools == nil) {
		return nil, fmt.Errorf("service: Agents and Tools must be given together")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("service: invalid configuration: %w", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Service{cfg: opts.Config, clock: clk, logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := s.cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	s.policies, err = policy.Load(s.cfg.Paths.Policies)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	s.pool, err = sqlitepool.Open(sqlitepool.Config{
		Path:   s.cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	s.evidence, err = evidence.OpenSQLite(ctx, evidence.SQLiteConfig{
		Pool:   s.pool,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	escalationStore, err := escalation.OpenSQLite(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	counters, err := preauth.OpenSQLiteCounters(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	notifier, err := s.buildNotifier(opts.Notifiers)
	if err != nil {
		return nil, err
	}
	s.escalations, err = escalation.NewManager(escalation.Config{
		Store:      escalationStore,
		Authority:  s.policies,
		Clock:      clk,
		Notifier:   notifier,
		DefaultTTL: s.cfg.Escalation.DefaultTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	s.preauth, err = preauth.NewEngine(preauth.Config{Store: counters, Clock: clk, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	s.enforcer, err = rbac.NewEnforcer(rbac.Config{
		Policies:    s.policies,
		PreAuth:     s.preauth,
		Escalations: s.escalations,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	if opts.Agents == nil {
		return s, nil
	}
	if err := s.openRuntime(opts.Agents, opts.Tools); err != nil {
		return nil, err
	}
	return s, nil
}

// openRuntime builds the knowledge router, runner, and scheduler.
func (s *Service) openRuntime(agents *agent.Registry, tools *capability.Registry) error {
	if err := agents.CheckPolicies(s.policies); err != nil {
		return fmt.Errorf("service: agents disagree with policies: %w", err)
	}
	s.agents = agents

	sources := []knowledge.Source{knowledge.NewEvidenceSource(s.evidence, knowledge.DefaultEvidenceWindow)}
	if documents := s.cfg.Knowledge.Documents; documents != "" {
		index, err := knowledge.LoadLocalIndex(documents)
		if err != nil {
			return fmt.Errorf("service: %w", err)
		}
		s.logger.Info("knowledge documents indexed", "path", documents, "passages", index.Len())
		sources = append(sources, index)
	}
	s.knowledge = knowledge.NewRouter(knowledge.RouterConfig{
		Sources:       sources,
		MinConfidence: s.cfg.Knowledge.MinConfidence,
		AllowInternet: s.cfg.Knowledge.AllowInternet,
		Logger:        s.logger,
	})

	var err error
	s.runner, err = agent.NewRunner(agent.RunnerConfig{
		Agents:      agents,
		Tools:       tools,
		Gate:        s.enforcer,
		Evidence:    s.evidence,
		Escalations: s.escalations,
		Clock:       s.clock,
		Knowledge:   s.knowledge,
		Trigger:     s.Trigger,
		Timeout:     s.cfg.Runtime.RunTimeout,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	s.scheduler, err = scheduler.New(scheduler.Config{
		Agents:        agents,
		Executor:      s.runner,
		Clock:         s.clock,
		MaxConcurrent: s.cfg.Runtime.MaxConcurrentRuns,
		OnAbandon:     s.releaseAbandoned,
		Logger:        s.logger,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

// Evidence returns the evidence store.
func (s *Service) Evidence() *evidence.SQLiteStore { return s.evidence }

// Escalations returns the escalation manager.
func (s *Service) Escalations() *escalation.Manager { return s.escalations }

// Policies returns the loaded policy set.
func (s *Service) Policies() *policy.Set { return s.policies }

// PreAuth returns the pre-authorization engine.
func (s *Service) PreAuth() *preauth.Engine { return s.preauth }

// Scheduler returns the scheduler, or nil without agents.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Runner returns the runner, or nil without agents.
func (s *Service) Runner() *agent.Runner { return s.runner }

// Knowledge returns the knowledge router, or nil without agents.
func (s *Service) Knowledge() *knowledge.Router { return s.knowledge }

// Run drives the background loops until ctx is cancelled or one of
// them fails. It returns nil after a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return ErrNoAgents
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return s.scheduler.Run(ctx) })
	group.Go(func() error {
		return s.every(ctx, "sweeper", s.cfg.Runtime.SweepInterval, s.Sweep)
	})
	group.Go(func() error {
		return s.every(ctx, "dispatcher", s.cfg.Runtime.DispatchInterval, s.DispatchApproved)
	})
	if s.retentionEnabled() {
		group.Go(func() error {
			return s.every(ctx, "retention", s.cfg.Retention.Interval, s.Compact)
		})
	}

	s.logger.Info("overwatch running",
		"environment", string(s.cfg.Environment),
		"agents", len(s.agents.Agents()),
		"scheduled", len(s.scheduler.Entries()),
	)
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the database and notifier connections.
func (s *Service) Close() error {
	var errs []error
	for _, closer := range s.closers {
		errs = append(errs, closer.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	return errors.Join(errs...)
}
