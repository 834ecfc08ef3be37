// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"fmt"
)

// Kind classifies a tool by whether it can change the systems it
// touches. Every tool declares its kind when it is registered; the
// enforcer trusts that declaration.
type Kind int

const (
	ReadOnly Kind = iota + 1
	StateChanging
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read_only"
	case StateChanging:
		return "state_changing"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case ReadOnly, StateChanging:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("authz: invalid tool kind %d", int(k))
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read_only":
		*k = ReadOnly
	case "state_changing":
		*k = StateChanging
	default:
		return fmt.Errorf("authz: unknown tool kind %q", text)
	}
	return nil
}

// Reasons the enforcer attaches to its decisions.
const (
	ReasonReadOnly         = "read-only tool"
	ReasonPassiveMutation  = "passive agents cannot use state-changing tools"
	ReasonNoPermission     = "no matching permission"
	ReasonPermitted        = "permitted without approval"
	ReasonPreAuthorized    = "pre-authorized"
	ReasonTicketRedeemed   = "execution ticket redeemed"
	ReasonHumanRequired    = "human approval required"
	ReasonAlreadyDenied    = "call already denied in this run"
	ReasonRunFinished      = "run has finished"
	ReasonPreAuthExhausted = "pre-authorization not admitted"
	ReasonConditionsUnmet  = "permission conditions unmet"
)

// Request describes one tool call awaiting a decision.
type Request struct {
	// Agent is the calling agent's name.
	Agent string

	// RunID identifies the calling run, for audit.
	RunID string

	// TriggeredBy is the text form of what started the run.
	TriggeredBy string

	// Tool and Kind identify the tool being called.
	Tool string
	Kind Kind

	// Scope is the target of the call, e.g. service:nginx:dev.
	Scope string

	// Context holds the key/value facts permission conditions are
	// evaluated against (environment=dev, incident=INC-42).
	Context map[string]string

	// Ticket is the execution ticket token the run was started
	// with, if any.
	Ticket string

	// Args are the arguments the agent passed.
	Args map[string]any
}

// Decision is a gate's verdict on one Request.
type Decision struct {
	Allowed bool

	// Reason is a human-readable explanation, set on every outcome.
	Reason string

	// EscalationID is set when the call was parked pending approval.
	EscalationID string

	// PolicyID names the pre-authorization policy that admitted the
	// call, if one did.
	PolicyID string

	// Params, when non-nil, replaces the agent's arguments: the
	// parameters an approver authorized with an execution ticket.
	Params map[string]any
}

// Pending reports whether the call was parked behind an escalation.
func (d Decision) Pending() bool {
	return !d.Allowed && d.EscalationID != ""
}

// Err returns nil for an allowed decision, *PendingError for a parked
// one, and *DeniedError otherwise.
func (d Decision) Err(request Request) error {
	switch {
	case d.Allowed:
		return nil
	case d.EscalationID != "":
		return &PendingError{
			Agent:        request.Agent,
			Tool:         request.Tool,
			Scope:        request.Scope,
			EscalationID: d.EscalationID,
			Reason:       d.Reason,
		}
	default:
		return &DeniedError{
			Agent:  request.Agent,
			Tool:   request.Tool,
			Scope:  request.Scope,
			Reason: d.Reason,
		}
	}
}

// Gate decides whether tool calls may proceed.
type Gate interface {
	Check(ctx context.Context, request Request) (Decision, error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, request Request) (Decision, error)

// Check calls f.
func (f GateFunc) Check(ctx context.Context, request Request) (Decision, error) {
	return f(ctx, request)
}

// DeniedError reports a call the gate refused. The calling agent must
// not retry it within the same run.
type DeniedError struct {
	Agent  string
	Tool   string
	Scope  string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s may not call %s on %s: %s", e.Agent, e.Tool, e.Scope, e.Reason)
}

// PendingError reports a call parked behind a human-approval
// escalation. Once approved, the target agent is run again with an
// execution ticket that covers the call.
type PendingError struct {
	Agent        string
	Tool         string
	Scope        string
	EscalationID string
	Reason       string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s calling %s on %s is pending approval (escalation %s): %s",
		e.Agent, e.Tool, e.Scope, e.EscalationID, e.Reason)
}
