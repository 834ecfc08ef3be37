// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	t.Setenv("OVERWATCH_ROOT", "")
	cfg := Default()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Paths.Root != "/home/operator/.local/share/overwatch" {
		t.Errorf("Root = %q", cfg.Paths.Root)
	}
	if cfg.Paths.Database != "/home/operator/.local/share/overwatch/overwatch.db" {
		t.Errorf("Database = %q", cfg.Paths.Database)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")
	_, err := Load()
	if err == nil || !strings.HasPrefix(err.Error(), "OVERWATCH_CONFIG environment variable not set") {
		t.Fatalf("Load() = %v", err)
	}
}

func TestLoadReadsEnvVar(t *testing.T) {
	path := writeConfig(t, `
environment: staging
paths:
  root: /srv/overwatch
runtime:
  run_timeout: 90s
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("Environment = %s", cfg.Environment)
	}
	if cfg.Paths.Database != "/srv/overwatch/overwatch.db" {
		t.Errorf("Database = %q, want it derived from root", cfg.Paths.Database)
	}
	if cfg.Runtime.RunTimeout != 90*time.Second {
		t.Errorf("RunTimeout = %s", cfg.Runtime.RunTimeout)
	}
	// Unset values keep their defaults.
	if cfg.Runtime.MaxConcurrentRuns != 8 {
		t.Errorf("MaxConcurrentRuns = %d, want default 8", cfg.Runtime.MaxConcurrentRuns)
	}
}

func TestEnvironmentSectionOverridesBase(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  root: /srv/overwatch
runtime:
  max_concurrent_runs: 4
notify:
  kafka:
    brokers: [kafka-1:9092]
    topic: escalations
production:
  runtime:
    max_concurrent_runs: 32
  notify:
    kafka:
      enabled: true
  environment: development
development:
  runtime:
    max_concurrent_runs: 1
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Runtime.MaxConcurrentRuns != 32 {
		t.Errorf("MaxConcurrentRuns = %d, want production override 32", cfg.Runtime.MaxConcurrentRuns)
	}
	if !cfg.Notify.Kafka.Enabled || cfg.Notify.Kafka.Topic != "escalations" {
		t.Errorf("Kafka = %+v, want base topic with production enable", cfg.Notify.Kafka)
	}
	if cfg.Environment != Production {
		t.Errorf("section switched environment to %s", cfg.Environment)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestProductionWithoutSectionRefusesInternet(t *testing.T) {
	path := writeConfig(t, `
environment: production
knowledge:
  allow_internet: true
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Knowledge.AllowInternet {
		t.Error("production without a section kept allow_internet")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("OVERWATCH_TEST_SET", "/from/env")
	t.Setenv("OVERWATCH_TEST_UNSET", "")
	vars := map[string]string{"OVERWATCH_ROOT": "/root/ow", "HOME": "/home/op"}

	tests := []struct {
		input string
		want  string
	}{
		{"${OVERWATCH_ROOT}/db", "/root/ow/db"},
		{"${OVERWATCH_TEST_SET}/x", "/from/env/x"},
		{"${OVERWATCH_TEST_UNSET:-/fallback}", "/fallback"},
		{"${OVERWATCH_TEST_UNSET:-${HOME}/nested}", "/home/op/nested"},
		{"plain/path", "plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.expandVariables()
	cfg.Environment = "qa"
	cfg.Runtime.MaxConcurrentRuns = 0
	cfg.Retention.Compression = "gzip"
	cfg.Retention.SummarizeAfter = 24 * time.Hour // before compress_after
	cfg.Notify.SMTP.Enabled = true
	cfg.Notify.Kafka.Enabled = true
	cfg.Knowledge.MinConfidence = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a broken config")
	}
	for _, want := range []string{
		`invalid environment "qa"`,
		"max_concurrent_runs",
		"retention.compression",
		"summarize_after",
		"notify.smtp.host",
		"notify.smtp.from",
		"notify.kafka.brokers",
		"notify.kafka.topic",
		"min_confidence",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error does not mention %q:\n%v", want, err)
		}
	}
}

func TestRetentionTiersMayBeDisabled(t *testing.T) {
	retention := RetentionConfig{Compression: "none", IndexAfter: 30 * 24 * time.Hour, Interval: time.Hour}
	if errs := retention.validate(); len(errs) != 0 {
		t.Errorf("validate = %v, want no errors", errs)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	cfg := Default()
	cfg.Paths.Root = root
	cfg.Paths.Database = filepath.Join(root, "db", "overwatch.db")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	if info, err := os.Stat(filepath.Join(root, "db")); err != nil || !info.IsDir() {
		t.Fatalf("database directory missing: %v", err)
	}
}
