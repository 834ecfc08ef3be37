// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Conditions is a predicate over a call's context. Every key must be
// satisfied. A value is a "|"-separated list of alternatives, each a
// path.Match glob; a leading "!" negates the whole list, and is also
// satisfied when the key is absent:
//
//	environment: dev            context[environment] == "dev"
//	environment: dev|staging    either
//	region: eu-*                any eu- region
//	environment: "!prod"        anything but prod, or unset
type Conditions map[string]string

// Holds reports whether context satisfies every condition. Empty
// conditions always hold.
func (c Conditions) Holds(context map[string]string) bool {
	for key, want := range c {
		got, present := context[key]
		if negated, ok := strings.CutPrefix(want, "!"); ok {
			if present && matchAny(negated, got) {
				return false
			}
			continue
		}
		if !present || !matchAny(want, got) {
			return false
		}
	}
	return true
}

// Unmet returns the keys context fails, sorted, for denial reasons.
func (c Conditions) Unmet(context map[string]string) []string {
	var unmet []string
	for key, want := range c {
		if !(Conditions{key: want}).Holds(context) {
			unmet = append(unmet, key)
		}
	}
	sort.Strings(unmet)
	return unmet
}

func matchAny(alternatives, value string) bool {
	for _, alternative := range strings.Split(alternatives, "|") {
		if alternative == value {
			return true
		}
		if matched, err := path.Match(alternative, value); err == nil && matched {
			return true
		}
	}
	return false
}

func (c Conditions) validate() error {
	for key, want := range c {
		if key == "" {
			return fmt.Errorf("condition with empty key")
		}
		body := strings.TrimPrefix(want, "!")
		if body == "" {
			return fmt.Errorf("condition %q has an empty value", key)
		}
		for _, alternative := range strings.Split(body, "|") {
			if _, err := path.Match(alternative, ""); err != nil {
				return fmt.Errorf("condition %q: bad pattern %q: %w", key, alternative, err)
			}
		}
	}
	return nil
}
