// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/overwatch-ops/overwatch/lib/cron"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/policy"
)

var (
	// ErrInvalidContext is returned by ValidateContext, and may be
	// returned by Run, when the invocation lacks what the agent
	// needs. The run's evidence gets the invalid_context status.
	ErrInvalidContext = errors.New("agent: invalid context")

	// ErrUnknownAgent is returned for an invocation naming an agent
	// that was never registered.
	ErrUnknownAgent = errors.New("agent: unknown agent")

	// ErrTimeout ends a run that outlived the runner's timeout.
	ErrTimeout = errors.New("agent: run timed out")
)

// Params is what an invocation hands the agent.
type Params struct {
	// Trigger records what started the run. Zero means ad hoc.
	Trigger evidence.Trigger

	// Context holds the facts permission conditions are evaluated
	// against, such as environment=dev.
	Context map[string]string

	// Args are free-form arguments for the agent.
	Args map[string]any

	// EscalationID and Ticket are set for a run executing an approved
	// escalation, with the Action and Scope the approver signed off on.
	EscalationID string
	Ticket       string
	Action       string
	Scope        string
}

// Agent is one autonomous operations agent.
type Agent interface {
	Name() string
	Role() policy.Role

	// RequiredTools must all be registered or the run fails before
	// it starts. OptionalTools are bound when available.
	RequiredTools() []string
	OptionalTools() []string

	// Schedule is a cron expression, or "" for an agent that only
	// runs on demand.
	Schedule() string

	// ValidateContext rejects params the agent cannot work with. It
	// should wrap ErrInvalidContext.
	ValidateContext(params Params) error

	Run(ctx context.Context, run *Run) error
}

// Registry holds the agents a process runs. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds agent. Names must be unique and schedules must parse.
func (r *Registry) Register(agent Agent) error {
	name := agent.Name()
	if name == "" {
		return fmt.Errorf("agent: registering agent with empty name")
	}
	switch agent.Role() {
	case policy.Passive, policy.Active:
	default:
		return fmt.Errorf("agent: %s has invalid role %v", name, agent.Role())
	}
	if schedule := agent.Schedule(); schedule != "" {
		if _, err := cron.Parse(schedule); err != nil {
			return fmt.Errorf("agent: %s schedule: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent: %s registered twice", name)
	}
	r.agents[name] = agent
	r.order = append(r.order, name)
	return nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Agents returns every agent in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	return agents
}

// CheckPolicies verifies that every registered agent has a policy
// declaring the same role.
func (r *Registry) CheckPolicies(set *policy.Set) error {
	var errs []error
	for _, agent := range r.Agents() {
		declared, ok := set.Agent(agent.Name())
		if !ok {
			errs = append(errs, fmt.Errorf("agent %s has no policy", agent.Name()))
			continue
		}
		if declared.Role != agent.Role() {
			errs = append(errs, fmt.Errorf("agent %s is %v but its policy says %v", agent.Name(), agent.Role(), declared.Role))
		}
	}
	return errors.Join(errs...)
}
