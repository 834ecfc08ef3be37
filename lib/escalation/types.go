// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	ErrNotFound                = errors.New("escalation: request not found")
	ErrNotAuthorizedToEscalate = errors.New("escalation: source agent may not escalate to target")
	ErrAlreadyResolved         = errors.New("escalation: request already resolved")
	ErrExpired                 = errors.New("escalation: request expired")
	ErrNotApprover             = errors.New("escalation: identity may not resolve requests for this agent")
	ErrTicketNotFound          = errors.New("escalation: ticket not found")
	ErrTicketAlreadyConsumed   = errors.New("escalation: ticket already consumed")
	ErrTicketMismatch          = errors.New("escalation: ticket does not cover this call")
)

// Status is where a request is in its lifecycle.
type Status int

const (
	Pending Status = iota + 1
	Approved
	Denied
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool { return s != Pending }

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "pending":
		return Pending, nil
	case "approved":
		return Approved, nil
	case "denied":
		return Denied, nil
	case "expired":
		return Expired, nil
	}
	return 0, fmt.Errorf("escalation: unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case Pending, Approved, Denied, Expired:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("escalation: invalid status %d", int(s))
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Severity orders requests for approvers. Critical sorts first.
type Severity int

const (
	Critical Severity = iota + 1
	High
	Medium
	Low
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity parses a severity name.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return 0, fmt.Errorf("escalation: unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	switch s {
	case Critical, High, Medium, Low:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("escalation: invalid severity %d", int(s))
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Origin records who raised a request.
type Origin int

const (
	// OriginAgent requests were raised by an agent on another's
	// behalf.
	OriginAgent Origin = iota + 1

	// OriginPolicy requests were opened by the enforcer for a call
	// that needs a human decision.
	OriginPolicy
)

func (o Origin) String() string {
	switch o {
	case OriginAgent:
		return "agent"
	case OriginPolicy:
		return "policy"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

func (o Origin) MarshalText() ([]byte, error) {
	switch o {
	case OriginAgent, OriginPolicy:
		return []byte(o.String()), nil
	}
	return nil, fmt.Errorf("escalation: invalid origin %d", int(o))
}

func (o *Origin) UnmarshalText(text []byte) error {
	switch string(text) {
	case "agent":
		*o = OriginAgent
	case "policy":
		*o = OriginPolicy
	default:
		return fmt.Errorf("escalation: unknown origin %q", text)
	}
	return nil
}

// Request is one escalation.
type Request struct {
	ID               string `json:"request_id"`
	Origin           Origin `json:"origin"`
	SourceAgent      string `json:"source_agent"`
	SourceEvidenceID string `json:"source_evidence_id,omitempty"`

	TargetAgent  string `json:"target_agent"`
	TargetAction string `json:"target_action"`
	Scope        string `json:"scope"`

	Severity          Severity          `json:"severity"`
	Justification     string            `json:"justification"`
	RecommendedParams map[string]any    `json:"recommended_params,omitempty"`
	Context           map[string]string `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Deadline is when a pending request expires. Zero never expires.
	Deadline time.Time `json:"deadline,omitzero"`

	Status         Status         `json:"status"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time      `json:"resolved_at,omitzero"`
	Reason         string         `json:"reason,omitempty"`
	ParamOverrides map[string]any `json:"param_overrides,omitempty"`

	// Ticket is issued on approval.
	Ticket *Ticket `json:"ticket,omitempty"`

	// Dispatched is set once the dispatcher has claimed the request.
	Dispatched bool `json:"dispatched,omitempty"`

	// ExecutionEvidenceID is the run that executed the approval.
	ExecutionEvidenceID string `json:"execution_evidence_id,omitempty"`
}

// Clone returns a copy sharing no maps with r.
func (r *Request) Clone() *Request {
	clone := *r
	clone.RecommendedParams = maps.Clone(r.RecommendedParams)
	clone.Context = maps.Clone(r.Context)
	clone.ParamOverrides = maps.Clone(r.ParamOverrides)
	if r.Ticket != nil {
		ticket := *r.Ticket
		ticket.Params = maps.Clone(r.Ticket.Params)
		clone.Ticket = &ticket
	}
	return &clone
}

// ExpiredAt reports whether a pending request's deadline has been
// reached at now.
func (r *Request) ExpiredAt(now time.Time) bool {
	return r.Status == Pending && !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// Ticket authorizes exactly one invocation of TargetAction by
// TargetAgent on Scope.
type Ticket struct {
	// Token is "{request_id}:{nonce}".
	Token     string `json:"token"`
	RequestID string `json:"request_id"`
	Agent     string `json:"agent"`
	Action    string `json:"action"`
	Scope     string `json:"scope"`

	// Params are the recommended parameters merged with the
	// approver's overrides.
	Params map[string]any `json:"params,omitempty"`

	IssuedAt   time.Time `json:"issued_at"`
	Consumed   bool      `json:"consumed,omitempty"`
	ConsumedAt time.Time `json:"consumed_at,omitzero"`
}

// Covers reports whether the ticket authorizes agent calling action
// on scope.
func (t *Ticket) Covers(agent, action, scope string) bool {
	return t.Agent == agent && t.Action == action && t.Scope == scope
}

// EffectiveParams merges overrides onto recommended; overrides win.
func EffectiveParams(recommended, overrides map[string]any) map[string]any {
	if len(recommended) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]any, len(recommended)+len(overrides))
	maps.Copy(merged, recommended)
	maps.Copy(merged, overrides)
	return merged
}

// CreateInput describes a new request.
type CreateInput struct {
	SourceAgent      string
	SourceEvidenceID string
	TargetAgent      string
	TargetAction     string
	Scope            string

	// Severity defaults to Medium.
	Severity          Severity
	Justification     string
	RecommendedParams map[string]any

	// Context is handed to the target agent's run on approval.
	Context map[string]string

	// Deadline overrides the manager's default time to live.
	Deadline time.Time
}

func (in CreateInput) validate() error {
	var missing []string
	if in.SourceAgent == "" {
		missing = append(missing, "source agent")
	}
	if in.TargetAgent == "" {
		missing = append(missing, "target agent")
	}
	if in.TargetAction == "" {
		missing = append(missing, "target action")
	}
	if in.Scope == "" {
		missing = append(missing, "scope")
	}
	if in.Justification == "" {
		missing = append(missing, "justification")
	}
	if len(missing) > 0 {
		return fmt.Errorf("escalation: request is missing %v", missing)
	}
	if in.Severity != 0 {
		if _, err := in.Severity.MarshalText(); err != nil {
			return err
		}
	}
	return nil
}

// Filter selects requests. Zero fields do not filter.
type Filter struct {
	Status      Status
	TargetAgent string
	SourceAgent string

	// Undispatched restricts to requests the dispatcher has not
	// claimed.
	Undispatched bool

	Limit int
}

func (f Filter) matches(r *Request) bool {
	return (f.Status == 0 || r.Status == f.Status) &&
		(f.TargetAgent == "" || r.TargetAgent == f.TargetAgent) &&
		(f.SourceAgent == "" || r.SourceAgent == f.SourceAgent) &&
		(!f.Undispatched || !r.Dispatched)
}
