// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/overwatch-ops/overwatch/cmd/overwatch/cli"
	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/evidence"
)

var (
	severityStyles = map[escalation.Severity]lipgloss.Style{
		escalation.Critical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		escalation.High:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		escalation.Medium:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		escalation.Low:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}

	statusStyles = map[evidence.Status]lipgloss.Style{
		evidence.Completed:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		evidence.Failed:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		evidence.TimedOut:       lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		evidence.InvalidContext: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}

	headingStyle = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// paint renders text with style when stdout is a terminal.
func paint(style lipgloss.Style, text string) string {
	if !cli.IsTerminal() {
		return text
	}
	return style.Render(text)
}

func paintSeverity(severity escalation.Severity) string {
	style, ok := severityStyles[severity]
	if !ok {
		return severity.String()
	}
	return paint(style, severity.String())
}

func paintStatus(status evidence.Status) string {
	style, ok := statusStyles[status]
	if !ok {
		return status.String()
	}
	return paint(style, status.String())
}
