// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"fmt"
	"strings"
)

// TriggerKind is what started a run.
type TriggerKind int

const (
	// TriggerSchedule is a cron firing.
	TriggerSchedule TriggerKind = iota + 1

	// TriggerAdhoc is an operator request.
	TriggerAdhoc

	// TriggerAgent is another agent: a passive agent's escalation,
	// approved and dispatched to its target.
	TriggerAgent
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerSchedule:
		return "schedule"
	case TriggerAdhoc:
		return "adhoc"
	case TriggerAgent:
		return "agent"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger records what started a run. Agent is set only for
// TriggerAgent.
type Trigger struct {
	Kind  TriggerKind
	Agent string
}

// Scheduled returns the trigger for a cron firing.
func Scheduled() Trigger { return Trigger{Kind: TriggerSchedule} }

// Adhoc returns the trigger for an operator request.
func Adhoc() Trigger { return Trigger{Kind: TriggerAdhoc} }

// ByAgent returns the trigger for a run started on behalf of agent.
func ByAgent(agent string) Trigger { return Trigger{Kind: TriggerAgent, Agent: agent} }

// String returns "schedule", "adhoc", or "agent:{name}".
func (t Trigger) String() string {
	if t.Kind == TriggerAgent {
		return "agent:" + t.Agent
	}
	return t.Kind.String()
}

// IsZero reports whether no trigger was set.
func (t Trigger) IsZero() bool { return t.Kind == 0 }

// ParseTrigger parses the text form of a trigger.
func ParseTrigger(text string) (Trigger, error) {
	switch text {
	case "schedule":
		return Scheduled(), nil
	case "adhoc":
		return Adhoc(), nil
	}
	if agent, ok := strings.CutPrefix(text, "agent:"); ok && agent != "" {
		return ByAgent(agent), nil
	}
	return Trigger{}, fmt.Errorf("evidence: unknown trigger %q (want schedule, adhoc, or agent:{name})", text)
}

func (t Trigger) MarshalText() ([]byte, error) {
	switch t.Kind {
	case TriggerSchedule, TriggerAdhoc:
	case TriggerAgent:
		if t.Agent == "" {
			return nil, fmt.Errorf("evidence: agent trigger without an agent name")
		}
	default:
		return nil, fmt.Errorf("evidence: invalid trigger kind %d", int(t.Kind))
	}
	return []byte(t.String()), nil
}

func (t *Trigger) UnmarshalText(text []byte) error {
	parsed, err := ParseTrigger(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is how a run ended.
type Status int

const (
	Completed Status = iota + 1
	Failed
	TimedOut

	// InvalidContext means the agent refused its parameters before
	// doing any work.
	InvalidContext
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case InvalidContext:
		return "invalid_context"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "completed":
		return Completed, nil
	case "failed":
		return Failed, nil
	case "timed_out":
		return TimedOut, nil
	case "invalid_context":
		return InvalidContext, nil
	}
	return 0, fmt.Errorf("evidence: unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case Completed, Failed, TimedOut, InvalidContext:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("evidence: invalid status %d", int(s))
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ActionResult is the outcome of one state-changing action.
type ActionResult int

const (
	Success ActionResult = iota + 1
	Failure

	// Skipped means the action was not executed: denied, or parked
	// behind an escalation.
	Skipped
)

func (r ActionResult) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("ActionResult(%d)", int(r))
	}
}

func (r ActionResult) MarshalText() ([]byte, error) {
	switch r {
	case Success, Failure, Skipped:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("evidence: invalid action result %d", int(r))
}

func (r *ActionResult) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*r = Success
	case "failure":
		*r = Failure
	case "skipped":
		*r = Skipped
	default:
		return fmt.Errorf("evidence: unknown action result %q", text)
	}
	return nil
}

// Source tags an observation with where it came from.
type Source string

const (
	SourceMetrics  Source = "metrics"
	SourceLogs     Source = "logs"
	SourceConfigs  Source = "configs"
	SourceCommands Source = "commands"
	SourceTickets  Source = "tickets"
	SourceChanges  Source = "changes"
)

// Tier is how much of a stored record survives retention.
type Tier int

const (
	TierFull Tier = iota
	TierCompressed
	TierSummary
	TierIndex
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierCompressed:
		return "compressed"
	case TierSummary:
		return "summary"
	case TierIndex:
		return "index"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	switch t {
	case TierFull, TierCompressed, TierSummary, TierIndex:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("evidence: invalid tier %d", int(t))
}

func (t *Tier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "full":
		*t = TierFull
	case "compressed":
		*t = TierCompressed
	case "summary":
		*t = TierSummary
	case "index":
		*t = TierIndex
	default:
		return fmt.Errorf("evidence: unknown tier %q", text)
	}
	return nil
}

// Detailed reports whether the tier keeps the full content, so the
// digest can be checked.
func (t Tier) Detailed() bool {
	return t == TierFull || t == TierCompressed
}
