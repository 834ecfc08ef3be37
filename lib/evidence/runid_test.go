// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"testing"
	"time"
)

func TestRunIDs(t *testing.T) {
	var ids RunIDs
	at := time.Date(2026, 3, 1, 9, 15, 42, 0, time.UTC)

	steps := []struct {
		agent string
		at    time.Time
		want  string
	}{
		{"health-monitor", at, "health-monitor_20260301_091542"},
		{"health-monitor", at.Add(300 * time.Millisecond), "health-monitor_20260301_091542_1"},
		{"health-monitor", at.Add(900 * time.Millisecond), "health-monitor_20260301_091542_2"},
		{"executor", at, "executor_20260301_091542"},
		{"health-monitor", at.Add(time.Second), "health-monitor_20260301_091543"},
		// Non-UTC input is rendered in UTC.
		{"executor", at.Add(time.Hour).In(time.FixedZone("CET", 3600)), "executor_20260301_101542"},
	}
	for i, step := range steps {
		if got := ids.Next(step.agent, step.at); got != step.want {
			t.Errorf("step %d: Next(%s) = %s, want %s", i, step.agent, got, step.want)
		}
	}
}

func TestTriggerText(t *testing.T) {
	tests := []struct {
		trigger Trigger
		text    string
	}{
		{Scheduled(), "schedule"},
		{Adhoc(), "adhoc"},
		{ByAgent("health-monitor"), "agent:health-monitor"},
	}
	for _, test := range tests {
		text, err := test.trigger.MarshalText()
		if err != nil || string(text) != test.text {
			t.Errorf("MarshalText(%v) = %q, %v; want %q", test.trigger, text, err, test.text)
		}
		parsed, err := ParseTrigger(test.text)
		if err != nil || parsed != test.trigger {
			t.Errorf("ParseTrigger(%q) = %v, %v", test.text, parsed, err)
		}
	}

	for _, bad := range []string{"", "agent:", "cron"} {
		if _, err := ParseTrigger(bad); err == nil {
			t.Errorf("ParseTrigger(%q) succeeded", bad)
		}
	}
	if _, err := (Trigger{}).MarshalText(); err == nil {
		t.Error("zero trigger marshaled")
	}
}
