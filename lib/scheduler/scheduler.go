// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/cron"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

// ErrStopped is returned for triggers arriving after shutdown began.
var ErrStopped = errors.New("scheduler: stopped")

// DefaultDrainTimeout is how long shutdown waits for in-flight runs
// before cancelling them.
const DefaultDrainTimeout = 30 * time.Second

// Executor runs one invocation. *agent.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, invocation agent.Invocation) (*evidence.Record, error)
}

// Config holds the parameters for New.
type Config struct {
	Agents   *agent.Registry
	Executor Executor
	Clock    clock.Clock

	// MaxConcurrent bounds runs in flight. Zero or less means one.
	MaxConcurrent int

	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration

	// OnAbandon, when set, is called for an accepted invocation that
	// never started because the scheduler stopped first.
	OnAbandon func(agent.Invocation)

	Logger *slog.Logger
}

// Entry is one agent's cron schedule.
type Entry struct {
	Agent    string
	Schedule cron.Schedule
	Next     time.Time
}

// Scheduler starts agent runs.
type Scheduler struct {
	executor     Executor
	clock        clock.Clock
	drainTimeout time.Duration
	onAbandon    func(agent.Invocation)
	logger       *slog.Logger
	slots        *semaphore.Weighted

	// runCtx is the parent of every run; cancelRuns aborts them when
	// a drain times out.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	entries  []*Entry
	active   map[string]chan struct{}
	stopping bool
}

// New builds a scheduler with an entry for every registered agent
// that declares a schedule.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Agents == nil {
		return nil, fmt.Errorf("scheduler: Agents is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("scheduler: Executor is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("scheduler: Clock is required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	s := &Scheduler{
		executor:     cfg.Executor,
		clock:        cfg.Clock,
		drainTimeout: drainTimeout,
		onAbandon:    cfg.OnAbandon,
		logger:       logger,
		slots:        semaphore.NewWeighted(int64(maxConcurrent)),
		runCtx:       runCtx,
		cancelRuns:   cancelRuns,
		wake:         make(chan struct{}, 1),
		active:       make(map[string]chan struct{}),
	}

	now := cfg.Clock.Now()
	for _, registered := range cfg.Agents.Agents() {
		expression := registered.Schedule()
		if expression == "" {
			continue
		}
		schedule, err := cron.Parse(expression)
		if err != nil {
			cancelRuns()
			return nil, fmt.Errorf("scheduler: %s: %w", registered.Name(), err)
		}
		next, err := schedule.Next(now)
		if err != nil {
			cancelRuns()
			return nil, fmt.Errorf("scheduler: %s: %w", registered.Name(), err)
		}
		s.entries = append(s.entries, &Entry{Agent: registered.Name(), Schedule: schedule, Next: next})
	}
	return s, nil
}

// Entries returns the cron entries ordered by next firing.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, len(s.entries))
	for i, entry := range s.entries {
		entries[i] = *entry
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Next.Before(entries[j].Next) })
	return entries
}

// Active reports whether name has a run in flight or waiting for a
// concurrency slot.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.active[name]
	return busy
}

// Stopping reports whether shutdown has begun. New dispatches fail
// with ErrStopped once it has.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Trigger starts name now unless it is already running, in which
// case the trigger is skipped and started is false.
func (s *Scheduler) Trigger(name string, params agent.Params) (started bool, err error) {
	released, err := s.claim(name, true)
	if err != nil || released != nil {
		if released != nil {
			s.logger.Info("trigger skipped: previous run still active",
				"agent", name,
				"trigger", params.Trigger.String(),
			)
		}
		return false, err
	}
	go s.execute(agent.Invocation{Agent: name, Params: params})
	return true, nil
}

// Dispatch starts an invocation as soon as its agent's slot is free.
// It returns immediately.
func (s *Scheduler) Dispatch(invocation agent.Invocation) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		for {
			released, err := s.claim(invocation.Agent, false)
			if err != nil {
				s.abandon(invocation, err)
				s.wg.Done()
				return
			}
			if released == nil {
				break
			}
			select {
			case <-released:
			case <-s.runCtx.Done():
				s.abandon(invocation, s.runCtx.Err())
				s.wg.Done()
				return
			}
		}
		s.execute(invocation)
	}()
	return nil
}

// claim takes name's slot, adding to the in-flight count when track
// is set. When the agent is busy it returns the channel closed on the
// running invocation's release instead.
func (s *Scheduler) claim(name string, track bool) (busy <-chan struct{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return nil, ErrStopped
	}
	if released, ok := s.active[name]; ok {
		return released, nil
	}
	s.active[name] = make(chan struct{})
	if track {
		s.wg.Add(1)
	}
	return nil, nil
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if released, ok := s.active[name]; ok {
		close(released)
		delete(s.active, name)
	}
}

// abandon reports an invocation that will not run.
func (s *Scheduler) abandon(invocation agent.Invocation, cause error) {
	s.logger.Warn("run abandoned before starting",
		"agent", invocation.Agent,
		"request_id", invocation.Params.EscalationID,
		"error", cause,
	)
	if s.onAbandon != nil {
		s.onAbandon(invocation)
	}
}

// execute runs a claimed invocation within the concurrency bound.
func (s *Scheduler) execute(invocation agent.Invocation) {
	defer s.wg.Done()
	defer s.release(invocation.Agent)

	if err := s.slots.Acquire(s.runCtx, 1); err != nil {
		s.abandon(invocation, err)
		return
	}
	defer s.slots.Release(1)

	record, err := s.executor.Execute(s.runCtx, invocation)
	if err != nil {
		s.logger.Error("run failed to record evidence", "agent", invocation.Agent, "error", err)
		return
	}
	s.logger.Debug("run recorded", "agent", invocation.Agent, "run_id", record.RunID, "status", record.Status.String())
}

// Run fires cron entries until ctx is cancelled, then drains in-flight
// runs and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "entries", len(s.entries))
	for {
		s.fireDue()

		fire := make(chan struct{}, 1)
		var timer *clock.Timer
		if next, ok := s.nextFiring(); ok {
			timer = s.clock.AfterFunc(next.Sub(s.clock.Now()), func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		}

		select {
		case <-fire:
		case <-s.wake:
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.drain()
			return nil
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Reschedule makes Run recompute its next wake-up, after the clock
// was changed or entries fired early.
func (s *Scheduler) Reschedule() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) nextFiring() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	for _, entry := range s.entries {
		if entry.Next.IsZero() {
			continue
		}
		if earliest.IsZero() || entry.Next.Before(earliest) {
			earliest = entry.Next
		}
	}
	return earliest, !earliest.IsZero()
}

// fireDue triggers every entry whose time has come and advances it.
// An entry that fell several periods behind fires once.
func (s *Scheduler) fireDue() {
	now := s.clock.Now()
	var due []string

	s.mu.Lock()
	for _, entry := range s.entries {
		if entry.Next.IsZero() || entry.Next.After(now) {
			continue
		}
		due = append(due, entry.Agent)
		next, err := entry.Schedule.Next(now)
		if err != nil {
			s.logger.Error("cron entry retired", "agent", entry.Agent, "error", err)
			next = time.Time{}
		}
		entry.Next = next
	}
	s.mu.Unlock()

	for _, name := range due {
		if _, err := s.Trigger(name, agent.Params{Trigger: evidence.Scheduled()}); err != nil {
			s.logger.Warn("scheduled trigger failed", "agent", name, "error", err)
		}
	}
}

// drain stops new runs and waits for in-flight ones, cancelling them
// once the drain timeout passes.
func (s *Scheduler) drain() {
	s.mu.Lock()
	s.stopping = true
	inFlight := len(s.active)
	s.mu.Unlock()
	s.logger.Info("scheduler draining", "in_flight", inFlight)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	timer := s.clock.AfterFunc(s.drainTimeout, s.cancelRuns)
	<-drained
	if timer.Stop() {
		s.cancelRuns()
		s.logger.Info("scheduler drained")
		return
	}
	s.logger.Warn("drain timeout passed; in-flight runs were cancelled", "timeout", s.drainTimeout)
}

// Wait blocks until every started run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
