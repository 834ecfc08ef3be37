// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"

	"github.com/overwatch-ops/overwatch/lib/scope"
)

// Validate checks the document as a whole and reports every problem,
// each wrapping ErrInvalidPolicy.
func (d *Document) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...)))
	}

	roles := make(map[string]Role, len(d.Agents))
	for i, agent := range d.Agents {
		if agent.AgentName == "" {
			fail("agents[%d]: agent_name is required", i)
			continue
		}
		if _, duplicate := roles[agent.AgentName]; duplicate {
			fail("agent %s is defined twice", agent.AgentName)
			continue
		}
		roles[agent.AgentName] = agent.Role
	}

	preauths := make(map[string]*PreAuthPolicy, len(d.PreAuthorizations))
	for i := range d.PreAuthorizations {
		rule := &d.PreAuthorizations[i]
		if rule.ID == "" {
			fail("pre_authorizations[%d]: policy_id is required", i)
			continue
		}
		if _, duplicate := preauths[rule.ID]; duplicate {
			fail("pre-authorization %s is defined twice", rule.ID)
			continue
		}
		preauths[rule.ID] = rule
		for _, problem := range rule.problems(roles) {
			fail("pre-authorization %s: %s", rule.ID, problem)
		}
	}

	for _, agent := range d.Agents {
		if agent.AgentName == "" {
			continue
		}
		for _, problem := range agent.problems(roles, d.PreAuthorizations, preauths) {
			fail("agent %s: %s", agent.AgentName, problem)
		}
	}

	return errors.Join(errs...)
}

func (p *RBACPolicy) problems(roles map[string]Role, ordered []PreAuthPolicy, byID map[string]*PreAuthPolicy) []string {
	var problems []string
	if p.Role != Passive && p.Role != Active {
		problems = append(problems, "role must be passive or active")
	}

	for i, permission := range p.Permissions {
		where := fmt.Sprintf("permissions[%d]", i)
		if permission.Tool == "" {
			problems = append(problems, where+": tool is required")
		}
		if err := scope.Validate(permission.Scope); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", where, err))
		}
		if err := permission.Conditions.validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", where, err))
		}

		switch permission.Approval {
		case ApprovalNone:
		case PreAuthorized:
			if p.Role == Passive {
				problems = append(problems, where+": passive agents cannot hold pre_authorized permissions")
				continue
			}
			if permission.Policy != "" {
				rule, ok := byID[permission.Policy]
				if !ok {
					problems = append(problems, fmt.Sprintf("%s: unknown pre-authorization policy %q", where, permission.Policy))
				} else if rule.ActiveAgent != p.AgentName {
					problems = append(problems, fmt.Sprintf("%s: pre-authorization %s applies to %s", where, rule.ID, rule.ActiveAgent))
				}
				continue
			}
			found := false
			for _, rule := range ordered {
				if rule.ActiveAgent == p.AgentName && rule.Action == permission.Tool {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf("%s: no pre-authorization policy for %s", where, permission.Tool))
			}
		case HumanRequired:
			if p.Role == Passive {
				problems = append(problems, where+": passive agents cannot hold human_required permissions")
			}
		default:
			problems = append(problems, where+": approval_type is required")
		}
	}

	for _, target := range p.CanEscalateTo {
		role, ok := roles[target]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("can_escalate_to names unknown agent %s", target))
		case role != Active:
			problems = append(problems, fmt.Sprintf("can_escalate_to names %s, which is not active", target))
		}
	}
	return problems
}

func (p *PreAuthPolicy) problems(roles map[string]Role) []string {
	var problems []string
	if role, ok := roles[p.ActiveAgent]; !ok {
		problems = append(problems, fmt.Sprintf("active_agent %q is not a defined agent", p.ActiveAgent))
	} else if role != Active {
		problems = append(problems, fmt.Sprintf("active_agent %s is not active", p.ActiveAgent))
	}
	if p.TriggerAgent != "" {
		if _, ok := roles[p.TriggerAgent]; !ok {
			problems = append(problems, fmt.Sprintf("trigger_agent %q is not a defined agent", p.TriggerAgent))
		}
	}
	if p.Action == "" {
		problems = append(problems, "action is required")
	}
	if p.MaxAttempts < 0 {
		problems = append(problems, "max_attempts must not be negative")
	}
	if p.Cooldown <= 0 {
		problems = append(problems, "cooldown must be positive")
	}
	if p.MinInterval < 0 {
		problems = append(problems, "min_interval must not be negative")
	} else if p.Cooldown > 0 && p.MinInterval > p.Cooldown {
		problems = append(problems, "min_interval must not exceed cooldown")
	}
	if err := p.Conditions.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := p.Bounds.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	return problems
}
