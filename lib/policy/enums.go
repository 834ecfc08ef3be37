// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"time"
)

// Role separates observers from actors.
type Role int

const (
	// Passive agents observe. They may only use read-only tools and
	// never trigger an escalation through the enforcer.
	Passive Role = iota + 1

	// Active agents change state. Every state-changing call is either
	// pre-authorized or approved by a human.
	Active
)

func (r Role) String() string {
	switch r {
	case Passive:
		return "passive"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole parses a role name.
func ParseRole(name string) (Role, error) {
	switch name {
	case "passive":
		return Passive, nil
	case "active":
		return Active, nil
	}
	return 0, fmt.Errorf("unknown role %q (want passive or active)", name)
}

func (r Role) MarshalText() ([]byte, error) {
	if r != Passive && r != Active {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ApprovalType is how a matching permission is authorized.
type ApprovalType int

const (
	// ApprovalNone allows the call outright.
	ApprovalNone ApprovalType = iota + 1

	// PreAuthorized allows the call if a pre-authorization policy
	// admits it, and otherwise requires a human.
	PreAuthorized

	// HumanRequired parks every call behind an escalation.
	HumanRequired
)

func (a ApprovalType) String() string {
	switch a {
	case ApprovalNone:
		return "none"
	case PreAuthorized:
		return "pre_authorized"
	case HumanRequired:
		return "human_required"
	default:
		return fmt.Sprintf("ApprovalType(%d)", int(a))
	}
}

// ParseApprovalType parses an approval type name.
func ParseApprovalType(name string) (ApprovalType, error) {
	switch name {
	case "none":
		return ApprovalNone, nil
	case "pre_authorized":
		return PreAuthorized, nil
	case "human_required":
		return HumanRequired, nil
	}
	return 0, fmt.Errorf("unknown approval_type %q (want none, pre_authorized, or human_required)", name)
}

func (a ApprovalType) MarshalText() ([]byte, error) {
	switch a {
	case ApprovalNone, PreAuthorized, HumanRequired:
		return []byte(a.String()), nil
	}
	return nil, fmt.Errorf("invalid approval type %d", int(a))
}

func (a *ApprovalType) UnmarshalText(text []byte) error {
	parsed, err := ParseApprovalType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Duration is a time.Duration written as "30m" or "1h30m" in both
// YAML and JSON documents.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
