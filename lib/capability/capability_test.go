// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/overwatch-ops/overwatch/lib/authz"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

func echo(ctx context.Context, scope string, args map[string]any) (Result, error) {
	return Result{Summary: "ran on " + scope, Data: args, Reversible: true, RollbackHint: "run it again"}, nil
}

func failing(ctx context.Context, scope string, args map[string]any) (Result, error) {
	return Result{}, errors.New("connection refused")
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	for _, tool := range []Tool{
		ReadOnly("get_metrics", echo),
		StateChanging("restart_service", echo).Describe("restart a service"),
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name, err)
		}
	}

	if err := registry.Register(ReadOnly("get_metrics", echo)); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateTool", err)
	}
	if err := registry.Register(Tool{Name: "untagged", Func: echo}); err == nil {
		t.Error("Register accepted a tool without a kind")
	}
	if err := registry.Register(ReadOnly("nil_func", nil)); err == nil {
		t.Error("Register accepted a tool without a function")
	}

	tools := registry.Tools()
	if len(tools) != 2 || tools[0].Name != "get_metrics" || tools[1].Description != "restart a service" {
		t.Errorf("Tools() = %+v", tools)
	}

	set, err := registry.Bind("executor", []string{"restart_service"}, []string{"get_metrics", "get_logs"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if names := set.Names(); len(names) != 2 || names[0] != "get_metrics" || names[1] != "restart_service" {
		t.Errorf("bound names = %v", names)
	}

	if _, err := registry.Bind("executor", []string{"restart_service", "scale_deployment"}, nil); !errors.Is(err, ErrMissingTool) {
		t.Errorf("Bind with a missing required tool = %v, want ErrMissingTool", err)
	}
}

type recorder struct {
	mu          sync.Mutex
	actions     []evidence.Action
	escalations []string
}

func (r *recorder) Act(action evidence.Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return true
}

func (r *recorder) LinkEscalation(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, id)
	return true
}

// scriptedGate answers from a per-tool table and counts calls.
type scriptedGate struct {
	mu        sync.Mutex
	decisions map[string]authz.Decision
	requests  []authz.Request
}

func (g *scriptedGate) Check(ctx context.Context, request authz.Request) (authz.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, request)
	decision, ok := g.decisions[request.Tool]
	if !ok {
		return authz.Decision{}, errors.New("no policy")
	}
	return decision, nil
}

func newBoundary(gate authz.Gate, rec Recorder) *Boundary {
	return NewBoundary(BoundaryConfig{
		Agent:       "executor",
		RunID:       "executor_20260301_090000",
		TriggeredBy: "agent:health-monitor",
		Context:     map[string]string{"environment": "dev"},
		Ticket:      "esc-1:nonce",
		Tools: Toolset{
			"get_metrics":     ReadOnly("get_metrics", echo),
			"restart_service": StateChanging("restart_service", echo),
			"drain_node":      StateChanging("drain_node", failing),
			"delete_volume":   StateChanging("delete_volume", echo),
			"scale":           StateChanging("scale", echo),
			"mystery":         StateChanging("mystery", echo),
		},
		Gate:     gate,
		Recorder: rec,
	})
}

func TestBoundaryInvoke(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{decisions: map[string]authz.Decision{
		"get_metrics":     {Allowed: true, Reason: authz.ReasonReadOnly},
		"restart_service": {Allowed: true, Reason: authz.ReasonPreAuthorized, PolicyID: "restart-dev"},
		"drain_node":      {Allowed: true, Reason: authz.ReasonPermitted},
		"delete_volume":   {Reason: authz.ReasonNoPermission},
		"scale": {
			Allowed:      true,
			Reason:       authz.ReasonTicketRedeemed,
			EscalationID: "esc-1",
			Params:       map[string]any{"replicas": 4},
		},
	}}
	rec := &recorder{}
	boundary := newBoundary(gate, rec)

	if _, err := boundary.Invoke(ctx, "format_disk", "host:a", nil); !errors.Is(err, ErrToolNotAvailable) {
		t.Errorf("unbound tool = %v, want ErrToolNotAvailable", err)
	}

	if _, err := boundary.Invoke(ctx, "get_metrics", "service:nginx:dev", nil); err != nil {
		t.Fatalf("get_metrics: %v", err)
	}
	if len(rec.actions) != 0 {
		t.Errorf("read-only call was recorded as an action: %+v", rec.actions)
	}

	if _, err := boundary.Invoke(ctx, "restart_service", "service:nginx:dev", map[string]any{"graceful": true}); err != nil {
		t.Fatalf("restart_service: %v", err)
	}

	if _, err := boundary.Invoke(ctx, "drain_node", "node:a", nil); err == nil {
		t.Fatal("drain_node tool error was swallowed")
	} else if IsRefusal(err) {
		t.Errorf("tool failure classified as a refusal: %v", err)
	}

	_, err := boundary.Invoke(ctx, "delete_volume", "volume:data", nil)
	var denied *authz.DeniedError
	if !errors.As(err, &denied) || denied.Reason != authz.ReasonNoPermission {
		t.Fatalf("delete_volume = %v, want DeniedError(no matching permission)", err)
	}

	result, err := boundary.Invoke(ctx, "scale", "deployment:api", map[string]any{"replicas": 10})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if result.Data["replicas"] != 4 {
		t.Errorf("ticketed call ran with %v, want the approved replicas=4", result.Data)
	}

	if _, err := boundary.Invoke(ctx, "mystery", "x", nil); err == nil || IsRefusal(err) {
		t.Errorf("gate error = %v, want a plain error", err)
	}

	wantResults := []evidence.ActionResult{evidence.Success, evidence.Failure, evidence.Skipped, evidence.Success, evidence.Skipped}
	if len(rec.actions) != len(wantResults) {
		t.Fatalf("recorded %d actions, want %d: %+v", len(rec.actions), len(wantResults), rec.actions)
	}
	for i, want := range wantResults {
		if rec.actions[i].Result != want {
			t.Errorf("action %d (%s) result = %v, want %v", i, rec.actions[i].Action, rec.actions[i].Result, want)
		}
	}
	if rec.actions[0].Target != "service:nginx:dev" || !rec.actions[0].Reversible {
		t.Errorf("restart action = %+v", rec.actions[0])
	}
	if rec.actions[3].EscalationID != "esc-1" || rec.actions[3].Params["replicas"] != 4 {
		t.Errorf("ticketed action = %+v", rec.actions[3])
	}
	if len(rec.escalations) != 1 || rec.escalations[0] != "esc-1" {
		t.Errorf("linked escalations = %v", rec.escalations)
	}

	first := gate.requests[0]
	if first.Kind != authz.ReadOnly || first.Context["environment"] != "dev" ||
		first.Ticket != "esc-1:nonce" || first.TriggeredBy != "agent:health-monitor" {
		t.Errorf("gate request = %+v", first)
	}
}

func TestBoundaryRefusesRepeats(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{decisions: map[string]authz.Decision{
		"restart_service": {Reason: authz.ReasonHumanRequired, EscalationID: "esc-9"},
	}}
	rec := &recorder{}
	boundary := newBoundary(gate, rec)

	_, err := boundary.Invoke(ctx, "restart_service", "service:nginx:prod", nil)
	var pending *authz.PendingError
	if !errors.As(err, &pending) || pending.EscalationID != "esc-9" {
		t.Fatalf("first call = %v, want PendingError(esc-9)", err)
	}
	if !IsRefusal(err) {
		t.Error("pending call is not a refusal")
	}

	_, err = boundary.Invoke(ctx, "restart_service", "service:nginx:prod", nil)
	var denied *authz.DeniedError
	if !errors.As(err, &denied) || denied.Reason != authz.ReasonAlreadyDenied {
		t.Fatalf("repeat = %v, want DeniedError(already denied)", err)
	}
	if len(gate.requests) != 1 {
		t.Errorf("gate asked %d times, want 1", len(gate.requests))
	}

	// A different scope is a different call.
	if _, err := boundary.Invoke(ctx, "restart_service", "service:nginx:staging", nil); !errors.As(err, &pending) {
		t.Errorf("other scope = %v, want PendingError", err)
	}
	if len(rec.escalations) != 2 || rec.actions[0].EscalationID != "esc-9" {
		t.Errorf("escalations %v, actions %+v", rec.escalations, rec.actions)
	}
}

func TestBoundaryClosed(t *testing.T) {
	gate := &scriptedGate{decisions: map[string]authz.Decision{
		"get_metrics": {Allowed: true, Reason: authz.ReasonReadOnly},
	}}
	boundary := newBoundary(gate, nil)
	boundary.Close()

	_, err := boundary.Invoke(context.Background(), "get_metrics", "host:a", nil)
	var denied *authz.DeniedError
	if !errors.As(err, &denied) || denied.Reason != authz.ReasonRunFinished {
		t.Fatalf("Invoke after Close = %v, want DeniedError(run has finished)", err)
	}
	if len(gate.requests) != 0 {
		t.Error("gate consulted after Close")
	}
}

// blockingGate allows every call once release is closed.
type blockingGate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGate) Check(ctx context.Context, request authz.Request) (authz.Decision, error) {
	g.entered <- struct{}{}
	<-g.release
	return authz.Decision{Allowed: true, Reason: authz.ReasonPermitted}, nil
}

func TestBoundaryClosedWhileGateDecides(t *testing.T) {
	gate := &blockingGate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	rec := &recorder{}
	var ran int
	boundary := NewBoundary(BoundaryConfig{
		Agent: "executor",
		RunID: "executor_20260301_090000",
		Tools: Toolset{
			"restart_service": StateChanging("restart_service", func(ctx context.Context, scope string, args map[string]any) (Result, error) {
				ran++
				return Result{Summary: "restarted"}, nil
			}),
		},
		Gate:     gate,
		Recorder: rec,
	})

	errs := make(chan error, 1)
	go func() {
		_, err := boundary.Invoke(context.Background(), "restart_service", "service:nginx:dev", nil)
		errs <- err
	}()
	<-gate.entered
	boundary.Close()
	close(gate.release)

	var err error
	select {
	case err = <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not return after the gate released")
	}
	var denied *authz.DeniedError
	if !errors.As(err, &denied) || denied.Reason != authz.ReasonRunFinished {
		t.Fatalf("Invoke = %v, want DeniedError(run has finished)", err)
	}
	if ran != 0 {
		t.Errorf("tool ran %d times after Close", ran)
	}
	if len(rec.actions) != 1 || rec.actions[0].Result != evidence.Skipped {
		t.Errorf("actions = %+v, want one skipped", rec.actions)
	}
}

func TestBoundaryCancelledBeforeExecution(t *testing.T) {
	gate := &scriptedGate{decisions: map[string]authz.Decision{
		"restart_service": {Allowed: true, Reason: authz.ReasonPermitted},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBoundary(gate, nil).Invoke(ctx, "restart_service", "service:nginx:dev", nil)
	if !IsRefusal(err) {
		t.Errorf("Invoke with a cancelled context = %v, want a refusal", err)
	}
}

func TestBoundaryCloseWaitsForExecutingCall(t *testing.T) {
	gate := &scriptedGate{decisions: map[string]authz.Decision{
		"drain_node": {Allowed: true, Reason: authz.ReasonPermitted},
	}}
	rec := &recorder{}
	started := make(chan struct{})
	finish := make(chan struct{})
	boundary := NewBoundary(BoundaryConfig{
		Agent: "executor",
		Tools: Toolset{
			"drain_node": StateChanging("drain_node", func(ctx context.Context, scope string, args map[string]any) (Result, error) {
				close(started)
				<-finish
				return Result{Summary: "drained " + scope}, nil
			}),
		},
		Gate:     gate,
		Recorder: rec,
	})

	go boundary.Invoke(context.Background(), "drain_node", "node:a", nil)
	<-started

	closed := make(chan struct{})
	go func() {
		boundary.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a call was executing")
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the call finished")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.actions) != 1 || rec.actions[0].Result != evidence.Success {
		t.Errorf("actions = %+v, want the executing call recorded", rec.actions)
	}
}
