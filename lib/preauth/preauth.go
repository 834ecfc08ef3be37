// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/policy"
)

// AdmissionResult is the outcome of one admission check.
type AdmissionResult int

const (
	Admitted AdmissionResult = iota + 1
	AttemptsExceeded
	CooldownActive
	ConditionsUnmet
)

func (r AdmissionResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AttemptsExceeded:
		return "attempts_exceeded"
	case CooldownActive:
		return "cooldown_active"
	case ConditionsUnmet:
		return "conditions_unmet"
	default:
		return fmt.Sprintf("AdmissionResult(%d)", int(r))
	}
}

func (r AdmissionResult) MarshalText() ([]byte, error) {
	switch r {
	case Admitted, AttemptsExceeded, CooldownActive, ConditionsUnmet:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("preauth: invalid admission result %d", int(r))
}

// Key identifies one admission budget.
type Key struct {
	PolicyID string
	Scope    string
}

func (k Key) String() string { return k.PolicyID + "@" + k.Scope }

// Limit is the budget a policy grants each key.
type Limit struct {
	// MaxAttempts is the firings allowed per Window. Zero means the
	// policy declared none: one firing per Window, reported as
	// cooldown_active when spent.
	MaxAttempts int

	Window      time.Duration
	MinInterval time.Duration
}

// LimitFor returns the budget declared by rule.
func LimitFor(rule *policy.PreAuthPolicy) Limit {
	return Limit{
		MaxAttempts: rule.MaxAttempts,
		Window:      rule.Cooldown.Std(),
		MinInterval: rule.MinInterval.Std(),
	}
}

// Outcome is a counter store's answer to TryAdmit.
type Outcome struct {
	Result AdmissionResult

	// Count is the number of firings in the window, including this
	// one when admitted.
	Count int

	// RetryAfter is how long until the key could admit again. Zero
	// when admitted.
	RetryAfter time.Duration
}

// decide applies limit to the firings recorded for a key, oldest
// first, at time now. Firings at or before now-Window have left the
// window.
func decide(firings []time.Time, now time.Time, limit Limit) Outcome {
	windowStart := now.Add(-limit.Window)
	inWindow := firings[:0:0]
	for _, firedAt := range firings {
		if firedAt.After(windowStart) {
			inWindow = append(inWindow, firedAt)
		}
	}
	count := len(inWindow)

	if limit.MinInterval > 0 && count > 0 {
		since := now.Sub(inWindow[count-1])
		if since < limit.MinInterval {
			return Outcome{Result: CooldownActive, Count: count, RetryAfter: limit.MinInterval - since}
		}
	}

	allowed := limit.MaxAttempts
	result := AttemptsExceeded
	if allowed <= 0 {
		allowed = 1
		result = CooldownActive
	}
	if count >= allowed {
		// The window frees a slot when its oldest relevant firing
		// leaves it.
		release := inWindow[count-allowed].Add(limit.Window)
		return Outcome{Result: result, Count: count, RetryAfter: release.Sub(now)}
	}
	return Outcome{Result: Admitted, Count: count + 1}
}

// CounterStore keeps firing history per key.
type CounterStore interface {
	// TryAdmit atomically decides and, when admitted, records a
	// firing at now.
	TryAdmit(ctx context.Context, key Key, now time.Time, limit Limit) (Outcome, error)

	// Count returns the firings recorded for key after since.
	Count(ctx context.Context, key Key, since time.Time) (int, error)
}

// AdmitRequest asks whether a policy admits one call.
type AdmitRequest struct {
	Policy *policy.PreAuthPolicy

	// Agent is the calling agent.
	Agent string

	// TriggeredBy is the agent whose escalation or request started
	// the run, empty for scheduled and ad hoc runs.
	TriggeredBy string

	Scope   string
	Context map[string]string
}

// Admission is the engine's answer.
type Admission struct {
	Result   AdmissionResult
	PolicyID string

	// Count is the number of firings in the current window.
	Count int

	RetryAfter time.Duration

	// Detail explains a non-admission.
	Detail string
}

// Admitted reports whether the call may proceed.
func (a Admission) Admitted() bool { return a.Result == Admitted }

// Config holds the parameters for NewEngine.
type Config struct {
	Store  CounterStore
	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine evaluates pre-authorization policies.
type Engine struct {
	store  CounterStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewEngine returns an engine over cfg.Store.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("preauth: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("preauth: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: cfg.Store, clock: cfg.Clock, logger: logger}, nil
}

// Admit checks the policy's conditions and, if they hold, consumes
// one firing from the key's budget.
func (e *Engine) Admit(ctx context.Context, request AdmitRequest) (Admission, error) {
	rule := request.Policy
	if rule == nil {
		return Admission{}, fmt.Errorf("preauth: no policy in request")
	}
	admission := Admission{PolicyID: rule.ID}

	switch {
	case request.Agent != rule.ActiveAgent:
		admission.Result = ConditionsUnmet
		admission.Detail = fmt.Sprintf("policy applies to %s, not %s", rule.ActiveAgent, request.Agent)
	case rule.TriggerAgent != "" && request.TriggeredBy != rule.TriggerAgent:
		admission.Result = ConditionsUnmet
		admission.Detail = fmt.Sprintf("policy requires a run triggered by %s", rule.TriggerAgent)
	case !rule.Conditions.Holds(request.Context):
		admission.Result = ConditionsUnmet
		admission.Detail = "unmet conditions: " + strings.Join(rule.Conditions.Unmet(request.Context), ", ")
	}
	if admission.Result == ConditionsUnmet {
		e.logger.Info("pre-authorization not admitted",
			"policy_id", rule.ID,
			"agent", request.Agent,
			"scope", request.Scope,
			"result", admission.Result.String(),
			"detail", admission.Detail,
		)
		return admission, nil
	}

	key := Key{PolicyID: rule.ID, Scope: request.Scope}
	outcome, err := e.store.TryAdmit(ctx, key, e.clock.Now(), LimitFor(rule))
	if err != nil {
		return Admission{}, fmt.Errorf("preauth: admitting %s: %w", key, err)
	}
	admission.Result = outcome.Result
	admission.Count = outcome.Count
	admission.RetryAfter = outcome.RetryAfter

	switch outcome.Result {
	case Admitted:
		e.logger.Info("pre-authorization admitted",
			"policy_id", rule.ID,
			"agent", request.Agent,
			"scope", request.Scope,
			"count", outcome.Count,
		)
	case AttemptsExceeded:
		admission.Detail = fmt.Sprintf("%d of %d firings used in the last %s; next slot in %s",
			outcome.Count, rule.Limit(), rule.Cooldown, outcome.RetryAfter.Round(time.Second))
	case CooldownActive:
		admission.Detail = fmt.Sprintf("cooling down for %s", outcome.RetryAfter.Round(time.Second))
	}
	if outcome.Result != Admitted {
		e.logger.Info("pre-authorization not admitted",
			"policy_id", rule.ID,
			"agent", request.Agent,
			"scope", request.Scope,
			"result", outcome.Result.String(),
			"detail", admission.Detail,
		)
	}
	return admission, nil
}

// Usage returns the firings counted against rule on scope in the
// current window.
func (e *Engine) Usage(ctx context.Context, rule *policy.PreAuthPolicy, scope string) (int, error) {
	since := e.clock.Now().Add(-rule.Cooldown.Std())
	count, err := e.store.Count(ctx, Key{PolicyID: rule.ID, Scope: scope}, since)
	if err != nil {
		return 0, fmt.Errorf("preauth: usage of %s@%s: %w", rule.ID, scope, err)
	}
	return count, nil
}
