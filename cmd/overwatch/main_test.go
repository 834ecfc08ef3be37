// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/internal/demo"
	"github.com/overwatch-ops/overwatch/lib/config"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/service"
	"github.com/overwatch-ops/overwatch/lib/testutil"
)

// setup writes a configuration rooted in a temporary directory with
// the demo policies, and redirects command output to a buffer.
func setup(t *testing.T) (configPath string, stdout *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "policies.yaml"), []byte(demo.Policies), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(root, "overwatch.yaml")
	document := "environment: development\npaths:\n  root: " + root + "\nnotify:\n  log: false\n"
	if err := os.WriteFile(configPath, []byte(document), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout = &bytes.Buffer{}
	previous := cli.Stdout
	cli.Stdout = stdout
	t.Cleanup(func() { cli.Stdout = previous })
	return configPath, stdout
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return rootCommand().Execute(args)
}

// openPending raises a policy escalation for the demo executor and
// returns its identifier.
func openPending(t *testing.T, configPath string) string {
	t.Helper()
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	svc, err := service.Open(ctx, service.Options{Config: cfg, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	request, err := svc.Escalations().Open(ctx, escalation.CreateInput{
		SourceAgent:       demo.ExecutorName,
		TargetAgent:       demo.ExecutorName,
		TargetAction:      demo.ScaleService,
		Scope:             "service:db:prod",
		Severity:          escalation.High,
		Justification:     "db is saturated",
		RecommendedParams: map[string]any{"replicas": 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	return request.ID
}

func TestPolicyValidate(t *testing.T) {
	configPath, stdout := setup(t)
	policies := filepath.Join(filepath.Dir(configPath), "policies.yaml")

	if err := run(t, "policy", "validate", policies); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(stdout.String(), "2 agents, 2 pre-authorizations") {
		t.Errorf("output = %q", stdout.String())
	}

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(broken, []byte("agents:\n  - agent_name: x\n    role: root\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "policy", "validate", broken); err == nil {
		t.Error("validate accepted an unknown role")
	}
}

func TestEscalationListEmpty(t *testing.T) {
	configPath, stdout := setup(t)
	if err := run(t, "escalation", "list", "--config", configPath, "--json"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestEscalationApproveFlow(t *testing.T) {
	configPath, stdout := setup(t)
	id := openPending(t, configPath)

	err := run(t, "escalation", "approve", id, "--config", configPath, "--as", "intern")
	if err == nil || !strings.Contains(err.Error(), "may not resolve") {
		t.Fatalf("approve by a non-approver: err = %v", err)
	}

	err = run(t, "escalation", "approve", id, "--config", configPath, "--as", "ops-lead", "--param", "replicas=3")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if want := "approved " + id; !strings.Contains(stdout.String(), want) {
		t.Errorf("output = %q, want %q", stdout.String(), want)
	}

	stdout.Reset()
	if err := run(t, "escalation", "list", "--config", configPath, "--status", "approved", "--json"); err != nil {
		t.Fatalf("list: %v", err)
	}
	var requests []escalation.Request
	if err := json.Unmarshal(stdout.Bytes(), &requests); err != nil {
		t.Fatalf("decoding %q: %v", stdout.String(), err)
	}
	if len(requests) != 1 || requests[0].ResolvedBy != "ops-lead" {
		t.Fatalf("approved requests = %+v", requests)
	}
	if replicas := requests[0].Ticket.Params["replicas"]; replicas != float64(3) {
		t.Errorf("ticket replicas = %v (%T), want 3", replicas, replicas)
	}

	err = run(t, "escalation", "deny", id, "--config", configPath, "--as", "ops-lead", "--reason", "too late")
	if err == nil {
		t.Error("deny of an approved request succeeded")
	}
}

func TestEscalationDenyRequiresReason(t *testing.T) {
	configPath, _ := setup(t)
	err := run(t, "escalation", "deny", "esc-1", "--config", configPath, "--as", "ops-lead")
	if err == nil || !strings.Contains(err.Error(), "--reason") {
		t.Fatalf("err = %v, want --reason required", err)
	}
}

func TestParseOverrides(t *testing.T) {
	overrides, err := parseOverrides([]string{"replicas=3", "dry_run=true", "note=scale up", "empty="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"replicas": 3, "dry_run": true, "note": "scale up", "empty": ""}
	for key, value := range want {
		if overrides[key] != value {
			t.Errorf("%s = %#v, want %#v", key, overrides[key], value)
		}
	}

	if _, err := parseOverrides([]string{"=3"}); err == nil {
		t.Error("accepted an empty key")
	}
	if _, err := parseOverrides([]string{"replicas"}); err == nil {
		t.Error("accepted a pair without =")
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		request escalation.Request
		want    string
	}{
		{"resolved", escalation.Request{Status: escalation.Approved, Deadline: now}, "-"},
		{"no deadline", escalation.Request{Status: escalation.Pending}, "never"},
		{"past", escalation.Request{Status: escalation.Pending, Deadline: now.Add(-time.Minute)}, "due"},
		{"future", escalation.Request{Status: escalation.Pending, Deadline: now.Add(90 * time.Minute)}, "in 1h30m0s"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := expiry(&test.request, now); got != test.want {
				t.Errorf("expiry = %q, want %q", got, test.want)
			}
		})
	}
}
