// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "OVERWATCH_CONFIG"

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Compression algorithms accepted by retention.compression.
var compressionAlgorithms = []string{"none", "zstd", "lz4"}

// Config is the complete service configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths      PathsConfig      `yaml:"paths"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Escalation EscalationConfig `yaml:"escalation"`
	Retention  RetentionConfig  `yaml:"retention"`
	Notify     NotifyConfig     `yaml:"notify"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`

	// Per-environment sections, in the same schema as the top level.
	Development *yaml.Node `yaml:"development,omitempty"`
	Staging     *yaml.Node `yaml:"staging,omitempty"`
	Production  *yaml.Node `yaml:"production,omitempty"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// Root is the base directory for everything below.
	Root string `yaml:"root"`

	// Database is the SQLite file shared by the evidence, escalation,
	// and admission stores.
	Database string `yaml:"database"`

	// Policies is the RBAC and pre-authorization document, YAML or
	// JSONC by extension.
	Policies string `yaml:"policies"`
}

// RuntimeConfig bounds agent execution.
type RuntimeConfig struct {
	// RunTimeout is the wall-clock limit on one agent run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxConcurrentRuns bounds runs in flight across all agents.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// SweepInterval is how often pending escalations past their
	// deadline are expired.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DispatchInterval is how often approved escalations are handed
	// to their target agents.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// EscalationConfig holds escalation defaults.
type EscalationConfig struct {
	// DefaultTTL is the deadline given to policy-originated
	// escalations. Zero means no deadline.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// RetentionConfig sets the ages at which evidence moves down a tier.
// A zero age disables that transition.
type RetentionConfig struct {
	CompressAfter  time.Duration `yaml:"compress_after"`
	SummarizeAfter time.Duration `yaml:"summarize_after"`
	IndexAfter     time.Duration `yaml:"index_after"`

	// Compression is none, zstd, or lz4.
	Compression string `yaml:"compression"`

	// Interval is how often the service runs a retention pass.
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig selects escalation notification channels.
type NotifyConfig struct {
	// Log writes every notification to the service log.
	Log bool `yaml:"log"`

	SMTP  SMTPConfig  `yaml:"smtp"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// SMTPConfig configures email delivery to approvers.
type SMTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	From    string `yaml:"from"`

	// CredentialsFile is a dotenv file holding SMTP_USERNAME and
	// SMTP_PASSWORD. Credentials never live in this file.
	CredentialsFile string `yaml:"credentials_file"`

	// Addresses maps approver identities to email addresses.
	// Identities without an entry are skipped.
	Addresses map[string]string `yaml:"addresses"`
}

// KafkaConfig configures publishing escalations to a topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// KnowledgeConfig configures the tiered knowledge service.
type KnowledgeConfig struct {
	// Documents is a directory of text and markdown files indexed as
	// the internal tier.
	Documents string `yaml:"documents"`

	// AllowInternet permits tier-3 queries for agents that ask.
	AllowInternet bool `yaml:"allow_internet"`

	// MinConfidence drops results scoring below it (0 to 1).
	MinConfidence float64 `yaml:"min_confidence"`
}

// Default returns the values a file is decoded over.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     "${OVERWATCH_ROOT:-${HOME}/.local/share/overwatch}",
			Database: "${OVERWATCH_ROOT}/overwatch.db",
			Policies: "${OVERWATCH_ROOT}/policies.yaml",
		},
		Runtime: RuntimeConfig{
			RunTimeout:        5 * time.Minute,
			MaxConcurrentRuns: 8,
			SweepInterval:     30 * time.Second,
			DispatchInterval:  5 * time.Second,
		},
		Escalation: EscalationConfig{
			DefaultTTL: time.Hour,
		},
		Retention: RetentionConfig{
			CompressAfter:  7 * 24 * time.Hour,
			SummarizeAfter: 90 * 24 * time.Hour,
			IndexAfter:     365 * 24 * time.Hour,
			Compression:    "zstd",
			Interval:       6 * time.Hour,
		},
		Notify: NotifyConfig{
			Log:  true,
			SMTP: SMTPConfig{Port: 587},
		},
		Knowledge: KnowledgeConfig{
			MinConfidence: 0.3,
		},
	}
}

// Load loads the file named by OVERWATCH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your overwatch.yaml, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads the file at path over Default, applies the section
// for the selected environment, and expands path variables. It does
// not call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var section *yaml.Node
	switch c.Environment {
	case Development:
		section = c.Development
	case Staging:
		section = c.Staging
	case Production:
		section = c.Production
		if section == nil {
			c.Knowledge.AllowInternet = false
		}
	}
	if section == nil {
		return nil
	}

	environment := c.Environment
	if err := section.Decode(c); err != nil {
		return fmt.Errorf("%s section: %w", environment, err)
	}
	// The section may not switch environments.
	c.Environment = environment
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["OVERWATCH_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Policies = expandVars(c.Paths.Policies, vars)
	c.Notify.SMTP.CredentialsFile = expandVars(c.Notify.SMTP.CredentialsFile, vars)
	c.Knowledge.Documents = expandVars(c.Knowledge.Documents, vars)
}

// varPattern matches ${NAME} and ${NAME:-default}. Defaults may
// themselves contain one level of ${NAME}.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^{}]|\$\{[^{}]*\})*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return expandVars(fallback, vars)
	})
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment %q", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}
	if c.Paths.Policies == "" {
		errs = append(errs, errors.New("paths.policies is required"))
	}

	if c.Runtime.RunTimeout <= 0 {
		errs = append(errs, errors.New("runtime.run_timeout must be positive"))
	}
	if c.Runtime.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("runtime.max_concurrent_runs must be at least 1"))
	}
	if c.Runtime.SweepInterval <= 0 {
		errs = append(errs, errors.New("runtime.sweep_interval must be positive"))
	}
	if c.Runtime.DispatchInterval <= 0 {
		errs = append(errs, errors.New("runtime.dispatch_interval must be positive"))
	}
	if c.Escalation.DefaultTTL < 0 {
		errs = append(errs, errors.New("escalation.default_ttl must not be negative"))
	}

	errs = append(errs, c.Retention.validate()...)

	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Host == "" {
			errs = append(errs, errors.New("notify.smtp.host is required when smtp is enabled"))
		}
		if c.Notify.SMTP.From == "" {
			errs = append(errs, errors.New("notify.smtp.from is required when smtp is enabled"))
		}
		if c.Notify.SMTP.Port <= 0 || c.Notify.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("notify.smtp.port %d is out of range", c.Notify.SMTP.Port))
		}
	}
	if c.Notify.Kafka.Enabled {
		if len(c.Notify.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("notify.kafka.brokers is required when kafka is enabled"))
		}
		if c.Notify.Kafka.Topic == "" {
			errs = append(errs, errors.New("notify.kafka.topic is required when kafka is enabled"))
		}
	}

	if c.Knowledge.MinConfidence < 0 || c.Knowledge.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("knowledge.min_confidence %v is outside [0, 1]", c.Knowledge.MinConfidence))
	}

	return errors.Join(errs...)
}

func (r RetentionConfig) validate() []error {
	var errs []error
	if !slices.Contains(compressionAlgorithms, r.Compression) {
		errs = append(errs, fmt.Errorf("retention.compression must be one of %v, got %q", compressionAlgorithms, r.Compression))
	}
	// Each enabled tier must start no earlier than the one above it.
	ages := []struct {
		name string
		age  time.Duration
	}{
		{"compress_after", r.CompressAfter},
		{"summarize_after", r.SummarizeAfter},
		{"index_after", r.IndexAfter},
	}
	var previous time.Duration
	var previousName string
	for _, tier := range ages {
		if tier.age < 0 {
			errs = append(errs, fmt.Errorf("retention.%s must not be negative", tier.name))
			continue
		}
		if tier.age == 0 {
			continue
		}
		if tier.age < previous {
			errs = append(errs, fmt.Errorf("retention.%s (%s) is earlier than retention.%s (%s)",
				tier.name, tier.age, previousName, previous))
		}
		previous, previousName = tier.age, tier.name
	}
	if r.Interval <= 0 && (r.CompressAfter > 0 || r.SummarizeAfter > 0 || r.IndexAfter > 0) {
		errs = append(errs, errors.New("retention.interval must be positive when a tier is enabled"))
	}
	return errs
}

// EnsurePaths creates the root directory and the database's parent.
func (c *Config) EnsurePaths() error {
	for _, dir := range []string{c.Paths.Root, filepath.Dir(c.Paths.Database)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}
