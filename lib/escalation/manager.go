// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/overwatch-ops/overwatch/lib/clock"
)

// SystemIdentity resolves requests the sweeper expires.
const SystemIdentity = "system"

// Authority answers the policy questions the manager asks.
// *policy.Set implements it.
type Authority interface {
	CanEscalate(source, target string) bool
	IsApprover(agent, identity string) bool
	Approvers(agent string) []string
}

// Ack confirms a notification was handed to a channel.
type Ack struct {
	Channel   string
	Recipient string
	MessageID string
}

// Notifier tells an approver about a new request.
type Notifier interface {
	Notify(ctx context.Context, recipient string, request Request) (Ack, error)
}

// Config holds the parameters for NewManager.
type Config struct {
	Store     Store
	Authority Authority
	Clock     clock.Clock

	// Notifier is optional.
	Notifier Notifier

	// DefaultTTL is the deadline given to requests created without
	// one. Zero means such requests never expire.
	DefaultTTL time.Duration

	// DefaultRecipients are notified about requests whose target
	// agent declares no approvers.
	DefaultRecipients []string

	Logger *slog.Logger

	// NewID generates request identifiers. Defaults to UUIDv7.
	NewID func() string
}

// Manager owns the escalation lifecycle.
type Manager struct {
	store             Store
	authority         Authority
	clock             clock.Clock
	notifier          Notifier
	defaultTTL        time.Duration
	defaultRecipients []string
	logger            *slog.Logger
	newID             func() string
}

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("escalation: Store is required")
	}
	if cfg.Authority == nil {
		return nil, fmt.Errorf("escalation: Authority is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("escalation: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Manager{
		store:             cfg.Store,
		authority:         cfg.Authority,
		clock:             cfg.Clock,
		notifier:          cfg.Notifier,
		defaultTTL:        cfg.DefaultTTL,
		defaultRecipients: cfg.DefaultRecipients,
		logger:            logger,
		newID:             newID,
	}, nil
}

// Create raises a request on behalf of input.SourceAgent, which must
// list the target in its can_escalate_to.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*Request, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if !m.authority.CanEscalate(input.SourceAgent, input.TargetAgent) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNotAuthorizedToEscalate, input.SourceAgent, input.TargetAgent)
	}
	return m.create(ctx, input, OriginAgent)
}

// Open raises a request for a call the enforcer could not authorize
// on its own. No escalation permission is checked.
func (m *Manager) Open(ctx context.Context, input CreateInput) (*Request, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	return m.create(ctx, input, OriginPolicy)
}

func (m *Manager) create(ctx context.Context, input CreateInput, origin Origin) (*Request, error) {
	now := m.clock.Now().UTC()
	request := &Request{
		ID:                m.newID(),
		Origin:            origin,
		SourceAgent:       input.SourceAgent,
		SourceEvidenceID:  input.SourceEvidenceID,
		TargetAgent:       input.TargetAgent,
		TargetAction:      input.TargetAction,
		Scope:             input.Scope,
		Severity:          input.Severity,
		Justification:     input.Justification,
		RecommendedParams: maps.Clone(input.RecommendedParams),
		Context:           maps.Clone(input.Context),
		CreatedAt:         now,
		Deadline:          input.Deadline.UTC(),
		Status:            Pending,
	}
	if request.Severity == 0 {
		request.Severity = Medium
	}
	if input.Deadline.IsZero() {
		request.Deadline = time.Time{}
		if m.defaultTTL > 0 {
			request.Deadline = now.Add(m.defaultTTL)
		}
	}

	if err := m.store.Insert(ctx, request); err != nil {
		return nil, err
	}
	m.logger.Info("escalation opened",
		"request_id", request.ID,
		"origin", origin.String(),
		"source_agent", request.SourceAgent,
		"target_agent", request.TargetAgent,
		"action", request.TargetAction,
		"scope", request.Scope,
		"severity", request.Severity.String(),
	)
	m.notify(ctx, request)
	return request, nil
}

// notify fans a new request out to its approvers. Delivery failures
// are logged.
func (m *Manager) notify(ctx context.Context, request *Request) {
	if m.notifier == nil {
		return
	}
	recipients := m.authority.Approvers(request.TargetAgent)
	if len(recipients) == 0 {
		recipients = m.defaultRecipients
	}
	for _, recipient := range recipients {
		ack, err := m.notifier.Notify(ctx, recipient, *request)
		if err != nil {
			m.logger.Warn("escalation notification failed",
				"request_id", request.ID,
				"recipient", recipient,
				"error", err,
			)
			continue
		}
		m.logger.Debug("escalation notification sent",
			"request_id", request.ID,
			"recipient", recipient,
			"channel", ack.Channel,
			"message_id", ack.MessageID,
		)
	}
}

// guard checks that identity may resolve r at now. A pending request
// past its deadline is expired in place and reported through expired;
// the caller persists it and returns ErrExpired.
func (m *Manager) guard(r *Request, now time.Time, identity string, expired *bool) error {
	*expired = false
	switch r.Status {
	case Expired:
		return fmt.Errorf("%w: %s", ErrExpired, r.ID)
	case Approved, Denied:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, r.ID, r.Status)
	}
	if r.ExpiredAt(now) {
		expire(r, now)
		*expired = true
		return nil
	}
	if !m.authority.IsApprover(r.TargetAgent, identity) {
		return fmt.Errorf("%w: %s for %s", ErrNotApprover, identity, r.TargetAgent)
	}
	return nil
}

func expire(r *Request, now time.Time) {
	r.Status = Expired
	r.ResolvedBy = SystemIdentity
	r.ResolvedAt = now
	r.Reason = "deadline passed"
}

// Approve resolves a pending request and issues its execution ticket.
// overrides are merged over the recommended parameters. Approval must
// come strictly before the deadline.
func (m *Manager) Approve(ctx context.Context, id, approver string, overrides map[string]any) (*Ticket, error) {
	if approver == "" {
		return nil, fmt.Errorf("escalation: approve %s: approver identity is required", id)
	}
	now := m.clock.Now().UTC()

	var expired bool
	updated, err := m.store.Update(ctx, id, func(r *Request) error {
		if err := m.guard(r, now, approver, &expired); err != nil || expired {
			return err
		}
		r.Status = Approved
		r.ResolvedBy = approver
		r.ResolvedAt = now
		r.Reason = "approved by " + approver
		r.ParamOverrides = maps.Clone(overrides)
		r.Ticket = &Ticket{
			Token:     r.ID + ":" + uuid.NewString(),
			RequestID: r.ID,
			Agent:     r.TargetAgent,
			Action:    r.TargetAction,
			Scope:     r.Scope,
			Params:    EffectiveParams(r.RecommendedParams, overrides),
			IssuedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.logger.Info("escalation expired on approval attempt", "request_id", id, "approver", approver)
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	m.logger.Info("escalation approved",
		"request_id", id,
		"approver", approver,
		"target_agent", updated.TargetAgent,
		"action", updated.TargetAction,
		"scope", updated.Scope,
	)
	ticket := *updated.Ticket
	return &ticket, nil
}

// Deny resolves a pending request without executing it.
func (m *Manager) Deny(ctx context.Context, id, approver, reason string) (*Request, error) {
	if approver == "" {
		return nil, fmt.Errorf("escalation: deny %s: approver identity is required", id)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("escalation: deny %s: a reason is required", id)
	}
	now := m.clock.Now().UTC()

	var expired bool
	updated, err := m.store.Update(ctx, id, func(r *Request) error {
		if err := m.guard(r, now, approver, &expired); err != nil || expired {
			return err
		}
		r.Status = Denied
		r.ResolvedBy = approver
		r.ResolvedAt = now
		r.Reason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	m.logger.Info("escalation denied", "request_id", id, "approver", approver, "reason", reason)
	return updated, nil
}

var errSkip = errors.New("escalation: skip")

// SweepExpired expires every pending request whose deadline is at or
// before now and returns their identifiers. Running it again expires
// nothing new.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	pending, err := m.store.List(ctx, Filter{Status: Pending})
	if err != nil {
		return nil, err
	}

	var swept []string
	for _, candidate := range pending {
		if !candidate.ExpiredAt(now) {
			continue
		}
		_, err := m.store.Update(ctx, candidate.ID, func(r *Request) error {
			if !r.ExpiredAt(now) {
				return errSkip
			}
			expire(r, now.UTC())
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return swept, err
		}
		swept = append(swept, candidate.ID)
		m.logger.Info("escalation expired", "request_id", candidate.ID, "deadline", candidate.Deadline)
	}
	return swept, nil
}

// Redeem consumes the ticket for agent calling action on scope. A
// ticket is good for one call.
func (m *Manager) Redeem(ctx context.Context, token, agent, action, scope string) (*Ticket, error) {
	id, _, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return nil, ErrTicketNotFound
	}
	now := m.clock.Now().UTC()

	updated, err := m.store.Update(ctx, id, func(r *Request) error {
		switch {
		case r.Ticket == nil || r.Ticket.Token != token:
			return ErrTicketNotFound
		case r.Ticket.Consumed:
			return fmt.Errorf("%w: %s", ErrTicketAlreadyConsumed, id)
		case !r.Ticket.Covers(agent, action, scope):
			return fmt.Errorf("%w: ticket is for %s calling %s on %s", ErrTicketMismatch,
				r.Ticket.Agent, r.Ticket.Action, r.Ticket.Scope)
		}
		r.Ticket.Consumed = true
		r.Ticket.ConsumedAt = now
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("execution ticket redeemed", "request_id", id, "agent", agent, "action", action, "scope", scope)
	ticket := *updated.Ticket
	return &ticket, nil
}

// ClaimApproved marks every approved, undispatched request as
// dispatched and returns them. A request is claimed by exactly one
// caller, across processes sharing the store.
func (m *Manager) ClaimApproved(ctx context.Context) ([]*Request, error) {
	candidates, err := m.store.List(ctx, Filter{Status: Approved, Undispatched: true})
	if err != nil {
		return nil, err
	}

	var claimed []*Request
	for _, candidate := range candidates {
		updated, err := m.store.Update(ctx, candidate.ID, func(r *Request) error {
			if r.Status != Approved || r.Dispatched {
				return errSkip
			}
			r.Dispatched = true
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, updated)
	}
	return claimed, nil
}

// Release returns a claimed request to the undispatched pool when its
// run never started, so the next ClaimApproved hands it out again. It
// reports false, without error, for a request that has since executed,
// redeemed its ticket, or left the approved state.
func (m *Manager) Release(ctx context.Context, id string) (bool, error) {
	_, err := m.store.Update(ctx, id, func(r *Request) error {
		if r.Status != Approved || !r.Dispatched || r.ExecutionEvidenceID != "" {
			return errSkip
		}
		if r.Ticket != nil && r.Ticket.Consumed {
			return errSkip
		}
		r.Dispatched = false
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.logger.Info("approved escalation released for redispatch", "request_id", id)
	return true, nil
}

// LinkExecution records the run that executed an approved request.
func (m *Manager) LinkExecution(ctx context.Context, id, runID string) error {
	_, err := m.store.Update(ctx, id, func(r *Request) error {
		if r.ExecutionEvidenceID != "" && r.ExecutionEvidenceID != runID {
			return fmt.Errorf("escalation: %s already executed by %s", id, r.ExecutionEvidenceID)
		}
		r.ExecutionEvidenceID = runID
		return nil
	})
	return err
}

// Get returns one request.
func (m *Manager) Get(ctx context.Context, id string) (*Request, error) {
	return m.store.Get(ctx, id)
}

// List returns matching requests, most severe first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Request, error) {
	return m.store.List(ctx, filter)
}

// Pending returns the approval queue.
func (m *Manager) Pending(ctx context.Context) ([]*Request, error) {
	return m.store.List(ctx, Filter{Status: Pending})
}
