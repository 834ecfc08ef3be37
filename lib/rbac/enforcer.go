// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/authz"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/policy"
	"github.com/overwatch-ops/overwatch/lib/preauth"
)

// ErrNoPolicyDefined is returned for an agent the policy set does not
// name. It is a configuration error, not a denial.
var ErrNoPolicyDefined = errors.New("rbac: no policy defined for agent")

// SeverityContextKey names the call-context entry whose value, if it
// parses, sets the severity of escalations the enforcer opens.
const SeverityContextKey = "severity"

// Admitter consumes pre-authorization firings. *preauth.Engine
// implements it.
type Admitter interface {
	Admit(ctx context.Context, request preauth.AdmitRequest) (preauth.Admission, error)
}

// Escalations opens escalations and redeems execution tickets.
// *escalation.Manager implements it.
type Escalations interface {
	Open(ctx context.Context, input escalation.CreateInput) (*escalation.Request, error)
	Redeem(ctx context.Context, token, agent, action, scope string) (*escalation.Ticket, error)
}

// Config holds the parameters for NewEnforcer.
type Config struct {
	Policies    *policy.Set
	PreAuth     Admitter
	Escalations Escalations
	Logger      *slog.Logger
}

// Enforcer is the authz.Gate every capability boundary calls.
type Enforcer struct {
	policies    *policy.Set
	preauth     Admitter
	escalations Escalations
	logger      *slog.Logger
}

var _ authz.Gate = (*Enforcer)(nil)

// NewEnforcer validates cfg and returns an enforcer.
func NewEnforcer(cfg Config) (*Enforcer, error) {
	if cfg.Policies == nil {
		return nil, fmt.Errorf("rbac: Policies is required")
	}
	if cfg.PreAuth == nil {
		return nil, fmt.Errorf("rbac: PreAuth is required")
	}
	if cfg.Escalations == nil {
		return nil, fmt.Errorf("rbac: Escalations is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Enforcer{
		policies:    cfg.Policies,
		preauth:     cfg.PreAuth,
		escalations: cfg.Escalations,
		logger:      logger,
	}, nil
}

// Check decides one call.
//
// Evaluation:
//  1. Unknown agent → ErrNoPolicyDefined
//  2. Read-only tool → ALLOW
//  3. Passive agent → DENY, never escalated
//  4. Execution ticket covering the call → redeem, ALLOW with the
//     ticket's parameters. A ticket that does not cover the call is
//     ignored.
//  5. First permission covering tool and scope decides:
//     conditions unmet → escalate, whatever the approval type
//     none → ALLOW
//     pre_authorized, admitted → ALLOW
//     pre_authorized, not admitted → escalate
//     human_required → escalate
//  6. No matching permission → DENY
//
// Read-only tools are allowed for every agent with a policy, without
// consulting its permissions.
func (e *Enforcer) Check(ctx context.Context, request authz.Request) (authz.Decision, error) {
	agentPolicy, ok := e.policies.Agent(request.Agent)
	if !ok {
		return authz.Decision{}, fmt.Errorf("%w: %s", ErrNoPolicyDefined, request.Agent)
	}

	switch request.Kind {
	case authz.ReadOnly:
		return authz.Decision{Allowed: true, Reason: authz.ReasonReadOnly}, nil
	case authz.StateChanging:
	default:
		return authz.Decision{}, fmt.Errorf("rbac: %s has unknown tool kind %v", request.Tool, request.Kind)
	}

	if agentPolicy.Role == policy.Passive {
		e.logger.Info("passive agent attempted state-changing call",
			"agent", request.Agent,
			"run_id", request.RunID,
			"tool", request.Tool,
			"scope", request.Scope,
		)
		return authz.Decision{Reason: authz.ReasonPassiveMutation}, nil
	}

	if request.Ticket != "" {
		decision, redeemed, err := e.redeem(ctx, request)
		if err != nil || redeemed {
			return decision, err
		}
	}

	index := agentPolicy.FirstMatch(request.Tool, request.Scope)
	if index < 0 {
		return authz.Decision{Reason: authz.ReasonNoPermission}, nil
	}
	permission := agentPolicy.Permissions[index]

	if unmet := permission.Conditions.Unmet(request.Context); len(unmet) > 0 {
		return e.escalate(ctx, request, authz.ReasonConditionsUnmet, "unmet: "+strings.Join(unmet, ", "))
	}

	switch permission.Approval {
	case policy.ApprovalNone:
		return authz.Decision{Allowed: true, Reason: authz.ReasonPermitted}, nil

	case policy.PreAuthorized:
		decision, admitted, detail, err := e.admit(ctx, request, permission)
		if err != nil || admitted {
			return decision, err
		}
		return e.escalate(ctx, request, authz.ReasonPreAuthExhausted, detail)

	case policy.HumanRequired:
		return e.escalate(ctx, request, authz.ReasonHumanRequired, "")

	default:
		return authz.Decision{}, fmt.Errorf("rbac: permission %d of %s has unknown approval type %v",
			index, request.Agent, permission.Approval)
	}
}

// redeem tries the request's execution ticket. redeemed is false when
// the ticket does not authorize this call and evaluation should go on.
func (e *Enforcer) redeem(ctx context.Context, request authz.Request) (decision authz.Decision, redeemed bool, err error) {
	ticket, err := e.escalations.Redeem(ctx, request.Ticket, request.Agent, request.Tool, request.Scope)
	switch {
	case err == nil:
		return authz.Decision{
			Allowed:      true,
			Reason:       authz.ReasonTicketRedeemed,
			EscalationID: ticket.RequestID,
			Params:       ticket.Params,
		}, true, nil
	case errors.Is(err, escalation.ErrTicketMismatch),
		errors.Is(err, escalation.ErrTicketAlreadyConsumed),
		errors.Is(err, escalation.ErrTicketNotFound):
		e.logger.Debug("execution ticket does not cover call",
			"agent", request.Agent,
			"tool", request.Tool,
			"scope", request.Scope,
			"error", err,
		)
		return authz.Decision{}, false, nil
	default:
		return authz.Decision{}, false, fmt.Errorf("rbac: redeeming ticket: %w", err)
	}
}

// admit asks the pre-authorization engine for a firing. Arguments
// outside the policy's bounds are not admitted and consume nothing.
func (e *Enforcer) admit(ctx context.Context, request authz.Request, permission policy.Permission) (decision authz.Decision, admitted bool, detail string, err error) {
	rule, ok := e.policies.ResolvePreAuth(request.Agent, request.Tool, permission)
	if !ok {
		return authz.Decision{}, false, "no pre-authorization policy resolves", nil
	}
	if err := rule.Bounds.Check(request.Args); err != nil {
		return authz.Decision{}, false, err.Error(), nil
	}

	admission, err := e.preauth.Admit(ctx, preauth.AdmitRequest{
		Policy:      rule,
		Agent:       request.Agent,
		TriggeredBy: triggerAgent(request.TriggeredBy),
		Scope:       request.Scope,
		Context:     request.Context,
	})
	if err != nil {
		return authz.Decision{}, false, "", fmt.Errorf("rbac: %w", err)
	}
	if !admission.Admitted() {
		return authz.Decision{}, false, fmt.Sprintf("%s: %s", admission.Result, admission.Detail), nil
	}
	return authz.Decision{
		Allowed:  true,
		Reason:   authz.ReasonPreAuthorized,
		PolicyID: rule.ID,
	}, true, "", nil
}

// escalate parks the call behind a new policy-origin escalation.
func (e *Enforcer) escalate(ctx context.Context, request authz.Request, reason, detail string) (authz.Decision, error) {
	justification := fmt.Sprintf("%s requested %s on %s: %s", request.Agent, request.Tool, request.Scope, reason)
	if detail != "" {
		justification += " (" + detail + ")"
	}

	var severity escalation.Severity
	if text, ok := request.Context[SeverityContextKey]; ok {
		if parsed, err := escalation.ParseSeverity(text); err == nil {
			severity = parsed
		}
	}

	opened, err := e.escalations.Open(ctx, escalation.CreateInput{
		SourceAgent:       request.Agent,
		SourceEvidenceID:  request.RunID,
		TargetAgent:       request.Agent,
		TargetAction:      request.Tool,
		Scope:             request.Scope,
		Severity:          severity,
		Justification:     justification,
		RecommendedParams: request.Args,
		Context:           request.Context,
	})
	if err != nil {
		return authz.Decision{}, fmt.Errorf("rbac: opening escalation: %w", err)
	}
	return authz.Decision{Reason: reason, EscalationID: opened.ID}, nil
}

// triggerAgent extracts the triggering agent from the text form of an
// evidence trigger ("agent:health-monitor").
func triggerAgent(triggeredBy string) string {
	trigger, err := evidence.ParseTrigger(triggeredBy)
	if err != nil || trigger.Kind != evidence.TriggerAgent {
		return ""
	}
	return trigger.Agent
}
