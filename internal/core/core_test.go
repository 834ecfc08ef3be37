// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/overwatch-ops/overwatch/internal/demo"
	"github.com/overwatch-ops/overwatch/lib/agent"
	"github.com/overwatch-ops/overwatch/lib/capability"
	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/config"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
	"github.com/overwatch-ops/overwatch/lib/policy"
	"github.com/overwatch-ops/overwatch/lib/service"
	"github.com/overwatch-ops/overwatch/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const runbook = `# Restart unhealthy service

Drain traffic, restart the service, and confirm the health check
passes before closing the incident.
`

type recordingNotifier struct {
	mu         sync.Mutex
	recipients map[string][]string
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient string, request escalation.Request) (escalation.Ack, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.recipients == nil {
		n.recipients = make(map[string][]string)
	}
	n.recipients[request.ID] = append(n.recipients[request.ID], recipient)
	return escalation.Ack{Channel: "test", Recipient: recipient}, nil
}

func (n *recordingNotifier) notified(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.recipients[id]
}

type world struct {
	fake     *clock.FakeClock
	fleet    *demo.Fleet
	notifier *recordingNotifier
	service  *service.Service
}

func newWorld(t *testing.T) *world {
	t.Helper()
	root := t.TempDir()
	policies := filepath.Join(root, "policies.yaml")
	if err := os.WriteFile(policies, []byte(demo.Policies), 0o600); err != nil {
		t.Fatal(err)
	}
	documents := filepath.Join(root, "runbooks")
	if err := os.MkdirAll(filepath.Join(documents, "services"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(documents, "services", "restart.md"), []byte(runbook), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		Root:     root,
		Database: filepath.Join(root, "overwatch.db"),
		Policies: policies,
	}
	cfg.Knowledge.Documents = documents
	cfg.Knowledge.MinConfidence = 0

	w := &world{
		fake:     clock.Fake(epoch),
		fleet:    demo.DefaultFleet(),
		notifier: &recordingNotifier{},
	}
	agents := agent.NewRegistry()
	tools := capability.NewRegistry()
	if err := demo.Register(agents, tools, w.fleet); err != nil {
		t.Fatalf("demo.Register: %v", err)
	}
	svc, err := service.Open(context.Background(), service.Options{
		Config:    cfg,
		Agents:    agents,
		Tools:     tools,
		Notifiers: []escalation.Notifier{w.notifier},
		Clock:     w.fake,
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("service.Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	w.service = svc
	return w
}

// checkFleet runs the health monitor and waits for it and every run
// it triggered.
func (w *world) checkFleet(t *testing.T) {
	t.Helper()
	started, err := w.service.Trigger(demo.HealthMonitorName, agent.Params{})
	if err != nil || !started {
		t.Fatalf("Trigger(health-monitor) = %v, %v", started, err)
	}
	w.service.Scheduler().Wait()
}

func (w *world) pending(t *testing.T) []*escalation.Request {
	t.Helper()
	pending, err := w.service.Escalations().Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	return pending
}

func TestHealthyFleetChangesNothing(t *testing.T) {
	w := newWorld(t)
	w.checkFleet(t)

	records, err := w.service.Evidence().Query(context.Background(), evidence.Filter{Agent: demo.HealthMonitorName})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("health-monitor records = %d, want 1", len(records))
	}
	record := records[0]
	if record.Status != evidence.Completed || record.TriggeredBy != evidence.Adhoc() {
		t.Errorf("record status %v trigger %v", record.Status, record.TriggeredBy)
	}
	if len(record.Conclusions) != 1 || record.Conclusions[0] != "all 3 services healthy" {
		t.Errorf("conclusions = %q", record.Conclusions)
	}
	if len(record.ActionsTaken) != 0 {
		t.Errorf("passive run recorded actions %v", record.ActionsTaken)
	}
	if got := w.pending(t); len(got) != 0 {
		t.Errorf("pending escalations = %d", len(got))
	}
}

// TestRemediationLifecycle follows a dev outage through a
// pre-authorized restart and a prod outage through human approval,
// then exhausts the dev budget and lets the resulting escalation
// expire.
func TestRemediationLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	if err := w.fleet.Break("service:nginx:dev"); err != nil {
		t.Fatal(err)
	}
	if err := w.fleet.Break("service:db:prod"); err != nil {
		t.Fatal(err)
	}

	w.checkFleet(t)

	// The dev restart ran under restart-dev-services.
	nginx, _ := w.fleet.State("service:nginx:dev")
	if !nginx.Healthy || nginx.Restarts != 1 {
		t.Fatalf("nginx after check = %+v", nginx)
	}
	executorRuns, err := w.service.Evidence().Query(ctx, evidence.Filter{Agent: demo.ExecutorName})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(executorRuns) != 1 {
		t.Fatalf("executor runs = %d, want 1", len(executorRuns))
	}
	devRun := executorRuns[0]
	if devRun.TriggeredBy != evidence.ByAgent(demo.HealthMonitorName) {
		t.Errorf("executor trigger = %v", devRun.TriggeredBy)
	}
	if len(devRun.ActionsTaken) != 1 || devRun.ActionsTaken[0].Result != evidence.Success {
		t.Fatalf("executor actions = %+v", devRun.ActionsTaken)
	}
	usage, err := w.service.PreAuth().Usage(ctx, mustPreAuth(t, w, "restart-dev-services"), "service:nginx:dev")
	if err != nil || usage != 1 {
		t.Errorf("restart-dev-services usage = %d, %v; want 1", usage, err)
	}

	// The prod restart became a pending escalation for both approvers.
	pending := w.pending(t)
	if len(pending) != 1 {
		t.Fatalf("pending escalations = %d, want 1", len(pending))
	}
	prod := pending[0]
	if prod.Scope != "service:db:prod" || prod.Severity != escalation.High || prod.Origin != escalation.OriginAgent {
		t.Errorf("prod escalation = %+v", prod)
	}
	if got := w.notifier.notified(prod.ID); len(got) != 2 || got[0] != "ops-lead" || got[1] != "sre-oncall" {
		t.Errorf("notified %v, want ops-lead and sre-oncall", got)
	}
	monitorRuns, _ := w.service.Evidence().Query(ctx, evidence.Filter{Escalation: prod.ID})
	if len(monitorRuns) != 1 || monitorRuns[0].Agent != demo.HealthMonitorName {
		t.Errorf("evidence linked to %s = %d records", prod.ID, len(monitorRuns))
	}

	// Approval issues one ticket; the dispatcher runs it once.
	if _, err := w.service.Escalations().Approve(ctx, prod.ID, "ops-lead", nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := w.service.Escalations().Approve(ctx, prod.ID, "sre-oncall", nil); !errors.Is(err, escalation.ErrAlreadyResolved) {
		t.Errorf("second Approve = %v, want ErrAlreadyResolved", err)
	}
	if err := w.service.DispatchApproved(ctx); err != nil {
		t.Fatalf("DispatchApproved: %v", err)
	}
	w.service.Scheduler().Wait()
	if err := w.service.DispatchApproved(ctx); err != nil {
		t.Fatalf("second DispatchApproved: %v", err)
	}
	w.service.Scheduler().Wait()

	db, _ := w.fleet.State("service:db:prod")
	if !db.Healthy || db.Restarts != 1 {
		t.Fatalf("db after approval = %+v", db)
	}
	resolved, err := w.service.Escalations().Get(ctx, prod.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Status != escalation.Approved || resolved.ExecutionEvidenceID == "" {
		t.Fatalf("resolved escalation = %+v", resolved)
	}
	execution, err := w.service.Evidence().Get(ctx, resolved.ExecutionEvidenceID)
	if err != nil {
		t.Fatalf("execution evidence: %v", err)
	}
	if len(execution.ActionsTaken) != 1 || execution.ActionsTaken[0].EscalationID != prod.ID ||
		execution.ActionsTaken[0].Result != evidence.Success {
		t.Errorf("execution actions = %+v", execution.ActionsTaken)
	}

	// Two more dev outages fit the budget of three; the fourth
	// escalates instead of restarting.
	for i := 0; i < 3; i++ {
		if err := w.fleet.Break("service:nginx:dev"); err != nil {
			t.Fatal(err)
		}
		w.checkFleet(t)
	}
	nginx, _ = w.fleet.State("service:nginx:dev")
	if nginx.Healthy || nginx.Restarts != 3 {
		t.Fatalf("nginx after budget = %+v, want unhealthy with 3 restarts", nginx)
	}
	pending = w.pending(t)
	if len(pending) != 1 {
		t.Fatalf("pending escalations = %d, want 1", len(pending))
	}
	exhausted := pending[0]
	if exhausted.Origin != escalation.OriginPolicy || exhausted.Scope != "service:nginx:dev" {
		t.Errorf("budget escalation = %+v", exhausted)
	}

	// Nobody answers; the sweep expires it and approval is refused.
	w.fake.Advance(config.Default().Escalation.DefaultTTL + time.Minute)
	if err := w.service.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := w.service.Escalations().Approve(ctx, exhausted.ID, "ops-lead", nil); !errors.Is(err, escalation.ErrExpired) {
		t.Errorf("Approve after sweep = %v, want ErrExpired", err)
	}
	if got := w.pending(t); len(got) != 0 {
		t.Errorf("pending after sweep = %d", len(got))
	}
}

func mustPreAuth(t *testing.T, w *world, id string) *policy.PreAuthPolicy {
	t.Helper()
	rule, ok := w.service.Policies().PreAuth(id)
	if !ok {
		t.Fatalf("no pre-authorization %s", id)
	}
	return rule
}
