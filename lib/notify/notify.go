// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/escalation"
)

// Log records notifications in the service log. It never fails.
type Log struct {
	Logger *slog.Logger
}

var _ escalation.Notifier = Log{}

func (l Log) Notify(ctx context.Context, recipient string, request escalation.Request) (escalation.Ack, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("escalation awaiting approval",
		"recipient", recipient,
		"request_id", request.ID,
		"severity", request.Severity.String(),
		"target_agent", request.TargetAgent,
		"action", request.TargetAction,
		"scope", request.Scope,
		"justification", request.Justification,
	)
	return escalation.Ack{Channel: "log", Recipient: recipient, MessageID: request.ID}, nil
}

// Multi delivers each notification to every channel in order. The
// first successful channel's Ack is returned; failures are joined.
type Multi []escalation.Notifier

var _ escalation.Notifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, recipient string, request escalation.Request) (escalation.Ack, error) {
	var (
		ack       escalation.Ack
		delivered bool
		errs      []error
	)
	for _, notifier := range m {
		channelAck, err := notifier.Notify(ctx, recipient, request)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !delivered {
			ack = channelAck
			delivered = true
		}
	}
	if !delivered && len(errs) == 0 {
		return ack, fmt.Errorf("notify: no channels configured")
	}
	return ack, errors.Join(errs...)
}

// Subject is the one-line summary used as an email subject and event
// title.
func Subject(request escalation.Request) string {
	return fmt.Sprintf("[Overwatch] %s escalation: %s %s on %s",
		strings.ToUpper(request.Severity.String()), request.TargetAgent, request.TargetAction, request.Scope)
}

// Body renders the request for a human approver.
func Body(request escalation.Request) string {
	var body strings.Builder
	fmt.Fprintf(&body, "Escalation %s needs a decision.\n\n", request.ID)
	fmt.Fprintf(&body, "Raised by:     %s\n", request.SourceAgent)
	if request.SourceEvidenceID != "" {
		fmt.Fprintf(&body, "Evidence:      %s\n", request.SourceEvidenceID)
	}
	fmt.Fprintf(&body, "Agent:         %s\n", request.TargetAgent)
	fmt.Fprintf(&body, "Action:        %s\n", request.TargetAction)
	fmt.Fprintf(&body, "Scope:         %s\n", request.Scope)
	fmt.Fprintf(&body, "Severity:      %s\n", request.Severity)
	if !request.Deadline.IsZero() {
		fmt.Fprintf(&body, "Deadline:      %s\n", request.Deadline.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&body, "\nJustification:\n%s\n", request.Justification)
	if len(request.RecommendedParams) > 0 {
		fmt.Fprintf(&body, "\nRecommended parameters: %v\n", request.RecommendedParams)
	}
	fmt.Fprintf(&body, "\nApprove:  overwatch escalation approve %s --as <identity>\n", request.ID)
	fmt.Fprintf(&body, "Deny:     overwatch escalation deny %s --as <identity> --reason <text>\n", request.ID)
	return body.String()
}
