// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/knowledge"
	"github.com/overwatch-ops/overwatch/lib/policy"
)

// Agent names.
const (
	HealthMonitorName = "health-monitor"
	ExecutorName      = "executor"
)

// Argument keys an ad hoc executor run is given.
const (
	ArgAction = "action"
	ArgScope  = "scope"
)

// HealthMonitor is the passive agent watching the fleet.
type HealthMonitor struct {
	// Every is the cron schedule. Empty means every five minutes.
	Every string
}

func (HealthMonitor) Name() string            { return HealthMonitorName }
func (HealthMonitor) Role() policy.Role       { return policy.Passive }
func (HealthMonitor) OptionalTools() []string { return nil }

func (HealthMonitor) RequiredTools() []string {
	return []string{ListServices, GetServiceHealth}
}

func (m HealthMonitor) Schedule() string {
	if m.Every == "" {
		return "*/5 * * * *"
	}
	return m.Every
}

func (HealthMonitor) ValidateContext(agent.Params) error { return nil }

func (m HealthMonitor) Run(ctx context.Context, run *agent.Run) error {
	listing, err := run.Invoke(ctx, ListServices, FleetScope, nil)
	if err != nil {
		return err
	}
	scopes, _ := listing.Data["services"].([]string)
	run.Evidence().Observe(evidence.SourceMetrics, listing.Summary, nil)

	unhealthy := 0
	for _, scope := range scopes {
		health, err := run.Invoke(ctx, GetServiceHealth, scope, nil)
		if err != nil {
			run.Evidence().Conclude(fmt.Sprintf("could not read the health of %s: %v", scope, err))
			continue
		}
		run.Evidence().Observe(evidence.SourceMetrics, health.Summary, health.Data)
		if healthy, _ := health.Data["healthy"].(bool); healthy {
			continue
		}
		unhealthy++
		environment, _ := health.Data["environment"].(string)
		run.Evidence().Conclude(scope + " is unhealthy")
		m.consultRunbooks(ctx, run, scope)
		if err := m.requestRestart(ctx, run, scope, environment); err != nil {
			return err
		}
	}
	if unhealthy == 0 {
		run.Evidence().Conclude(fmt.Sprintf("all %d services healthy", len(scopes)))
	}
	return nil
}

// requestRestart hands a dev restart straight to the executor, which
// a pre-authorization may cover, and escalates everything else.
func (HealthMonitor) requestRestart(ctx context.Context, run *agent.Run, scope, environment string) error {
	facts := map[string]string{"environment": environment}
	if environment == "dev" {
		_, err := run.TriggerAgent(ExecutorName, facts, map[string]any{ArgAction: RestartService, ArgScope: scope})
		if err == nil {
			run.Evidence().Recommend("restart " + scope)
			return nil
		}
		if !errors.Is(err, agent.ErrNoTrigger) {
			return err
		}
	}

	severity := escalation.Medium
	if environment == "prod" {
		severity = escalation.High
	}
	request, err := run.Escalate(ctx, escalation.CreateInput{
		TargetAgent:   ExecutorName,
		TargetAction:  RestartService,
		Scope:         scope,
		Severity:      severity,
		Justification: scope + " failed its health check",
		Context:       facts,
	})
	if err != nil {
		return fmt.Errorf("escalating restart of %s: %w", scope, err)
	}
	run.Evidence().Recommend(fmt.Sprintf("approve escalation %s to restart %s", request.ID, scope))
	return nil
}

// consultRunbooks adds the best matching runbook passage, if any, to
// the recommendations.
func (HealthMonitor) consultRunbooks(ctx context.Context, run *agent.Run, scope string) {
	name := strings.Split(scope, ":")
	query := "restart unhealthy service"
	if len(name) > 1 {
		query += " " + name[1]
	}
	results, err := run.Query(ctx, knowledge.Query{Text: query, Limit: 1})
	if err != nil {
		if !errors.Is(err, agent.ErrNoKnowledge) {
			run.Logger().Debug("runbook lookup failed", "scope", scope, "error", err)
		}
		return
	}
	if len(results) == 0 {
		return
	}
	first, _, _ := strings.Cut(results[0].Content, "\n")
	run.Evidence().Recommend(fmt.Sprintf("see %s: %s", results[0].Source, first))
}

// Executor is the active agent that changes the fleet.
type Executor struct{}

func (Executor) Name() string      { return ExecutorName }
func (Executor) Role() policy.Role { return policy.Active }
func (Executor) Schedule() string  { return "" }

func (Executor) RequiredTools() []string {
	return []string{RestartService, ScaleService, ClearCache}
}

func (Executor) OptionalTools() []string {
	return []string{GetServiceHealth}
}

// target returns the action and scope the run was asked to perform,
// and the arguments to perform it with.
func (Executor) target(params agent.Params) (action, scope string, args map[string]any) {
	if params.Ticket != "" {
		return params.Action, params.Scope, params.Args
	}
	action, _ = params.Args[ArgAction].(string)
	scope, _ = params.Args[ArgScope].(string)
	args = make(map[string]any, len(params.Args))
	for key, value := range params.Args {
		if key != ArgAction && key != ArgScope {
			args[key] = value
		}
	}
	return action, scope, args
}

func (e Executor) ValidateContext(params agent.Params) error {
	action, scope, _ := e.target(params)
	if action == "" || scope == "" {
		return fmt.Errorf("%w: executor needs an action and a scope", agent.ErrInvalidContext)
	}
	return nil
}

func (e Executor) Run(ctx context.Context, run *agent.Run) error {
	action, scope, args := e.target(run.Params())
	if !run.Has(action) {
		return fmt.Errorf("%w: executor cannot perform %s", agent.ErrInvalidContext, action)
	}

	result, err := run.Invoke(ctx, action, scope, args)
	if capability.IsRefusal(err) {
		run.Evidence().Conclude(fmt.Sprintf("%s on %s not performed: %v", action, scope, err))
		return nil
	}
	if err != nil {
		return err
	}
	run.Evidence().Conclude(result.Summary)

	if action == RestartService && run.Has(GetServiceHealth) {
		health, err := run.Invoke(ctx, GetServiceHealth, scope, nil)
		if err != nil {
			run.Evidence().NextStep("verify " + scope + " by hand: " + err.Error())
			return nil
		}
		run.Evidence().Observe(evidence.SourceMetrics, health.Summary, health.Data)
	}
	return nil
}

// Register adds the fleet's tools and both agents.
func Register(agents *agent.Registry, tools *capability.Registry, fleet *Fleet) error {
	if err := fleet.RegisterTools(tools); err != nil {
		return err
	}
	if err := agents.Register(HealthMonitor{}); err != nil {
		return err
	}
	return agents.Register(Executor{})
}
