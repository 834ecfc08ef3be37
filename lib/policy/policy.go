// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"slices"

	"github.com/overwatch-ops/overwatch/lib/scope"
)

// ErrInvalidPolicy is wrapped by every validation failure.
var ErrInvalidPolicy = errors.New("policy: invalid policy")

// Permission grants one tool on one scope pattern.
type Permission struct {
	// Tool is a tool name or a glob over tool names.
	Tool string `yaml:"tool" json:"tool"`

	// Scope is a pattern in lib/scope syntax.
	Scope string `yaml:"scope" json:"scope"`

	Approval ApprovalType `yaml:"approval_type" json:"approval_type"`

	// Conditions must hold against the call context for the
	// permission to grant its approval type. A matched permission
	// whose conditions fail still decides the call, as human_required.
	Conditions Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// Policy names the pre-authorization policy consulted for a
	// pre_authorized permission. When empty, the first policy for the
	// same agent and action is used.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// Matches reports whether the permission covers tool on target.
// Conditions are not part of the match.
func (p Permission) Matches(tool, target string) bool {
	return scope.MatchName(p.Tool, tool) && scope.Match(p.Scope, target)
}

// RBACPolicy is one agent's role and grants.
type RBACPolicy struct {
	AgentName string `yaml:"agent_name" json:"agent_name"`
	Role      Role   `yaml:"role" json:"role"`

	// Permissions are evaluated in order; the first match decides.
	Permissions []Permission `yaml:"permissions" json:"permissions"`

	// CanEscalateTo lists the active agents this (passive) agent may
	// raise escalations for.
	CanEscalateTo []string `yaml:"can_escalate_to,omitempty" json:"can_escalate_to,omitempty"`

	// RequiresApprovalFrom lists the identities allowed to resolve
	// escalations targeting this agent. Empty means any identity.
	RequiresApprovalFrom []string `yaml:"requires_approval_from,omitempty" json:"requires_approval_from,omitempty"`
}

// FirstMatch returns the index of the first permission covering tool
// on target, or -1.
func (p *RBACPolicy) FirstMatch(tool, target string) int {
	for i, permission := range p.Permissions {
		if permission.Matches(tool, target) {
			return i
		}
	}
	return -1
}

// PreAuthPolicy admits an active agent's action without a human
// decision, a bounded number of times per cooldown window.
type PreAuthPolicy struct {
	ID string `yaml:"policy_id" json:"policy_id"`

	// ActiveAgent is the agent the policy applies to.
	ActiveAgent string `yaml:"active_agent" json:"active_agent"`

	// TriggerAgent, when set, restricts the policy to runs triggered
	// by that agent.
	TriggerAgent string `yaml:"trigger_agent,omitempty" json:"trigger_agent,omitempty"`

	// Action is the tool the policy admits.
	Action string `yaml:"action" json:"action"`

	Conditions Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Bounds     Bounds     `yaml:"bounds,omitempty" json:"bounds,omitempty"`

	// MaxAttempts is the number of firings allowed per scope within
	// any Cooldown-long window. Zero allows a single firing.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	Cooldown Duration `yaml:"cooldown" json:"cooldown"`

	// MinInterval is the least time between two firings on the same
	// scope. Zero means no spacing beyond the attempt limit.
	MinInterval Duration `yaml:"min_interval,omitempty" json:"min_interval,omitempty"`
}

// Limit returns the effective firings allowed per window.
func (p *PreAuthPolicy) Limit() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Document is the on-disk form of a policy set.
type Document struct {
	Agents            []RBACPolicy    `yaml:"agents" json:"agents"`
	PreAuthorizations []PreAuthPolicy `yaml:"pre_authorizations,omitempty" json:"pre_authorizations,omitempty"`
}

// Set is a validated, read-only policy document with lookups.
type Set struct {
	document Document
	agents   map[string]*RBACPolicy
	preauth  map[string]*PreAuthPolicy
}

// NewSet validates document and indexes it.
func NewSet(document Document) (*Set, error) {
	if err := document.Validate(); err != nil {
		return nil, err
	}
	set := &Set{
		document: document,
		agents:   make(map[string]*RBACPolicy, len(document.Agents)),
		preauth:  make(map[string]*PreAuthPolicy, len(document.PreAuthorizations)),
	}
	for i := range set.document.Agents {
		agent := &set.document.Agents[i]
		set.agents[agent.AgentName] = agent
	}
	for i := range set.document.PreAuthorizations {
		rule := &set.document.PreAuthorizations[i]
		set.preauth[rule.ID] = rule
	}
	return set, nil
}

// Agent returns the named agent's policy.
func (s *Set) Agent(name string) (*RBACPolicy, bool) {
	policy, ok := s.agents[name]
	return policy, ok
}

// Agents returns every agent policy in document order.
func (s *Set) Agents() []RBACPolicy {
	return slices.Clone(s.document.Agents)
}

// PreAuth returns the named pre-authorization policy.
func (s *Set) PreAuth(id string) (*PreAuthPolicy, bool) {
	rule, ok := s.preauth[id]
	return rule, ok
}

// PreAuths returns every pre-authorization policy in document order.
func (s *Set) PreAuths() []PreAuthPolicy {
	return slices.Clone(s.document.PreAuthorizations)
}

// ResolvePreAuth finds the pre-authorization policy governing a
// pre_authorized permission matched by agent calling tool.
func (s *Set) ResolvePreAuth(agent, tool string, permission Permission) (*PreAuthPolicy, bool) {
	if permission.Policy != "" {
		return s.PreAuth(permission.Policy)
	}
	for i := range s.document.PreAuthorizations {
		rule := &s.document.PreAuthorizations[i]
		if rule.ActiveAgent == agent && rule.Action == tool {
			return rule, true
		}
	}
	return nil, false
}

// CanEscalate reports whether source may raise escalations targeting
// target.
func (s *Set) CanEscalate(source, target string) bool {
	policy, ok := s.agents[source]
	return ok && slices.Contains(policy.CanEscalateTo, target)
}

// Approvers returns the identities allowed to resolve escalations
// targeting agent. Nil means any identity.
func (s *Set) Approvers(agent string) []string {
	policy, ok := s.agents[agent]
	if !ok {
		return nil
	}
	return slices.Clone(policy.RequiresApprovalFrom)
}

// IsApprover reports whether identity may resolve escalations
// targeting agent.
func (s *Set) IsApprover(agent, identity string) bool {
	approvers := s.Approvers(agent)
	return len(approvers) == 0 || slices.Contains(approvers, identity)
}
