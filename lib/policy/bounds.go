// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"sort"
)

// Range limits one numeric parameter. A nil end is open.
type Range struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Bounds limits the parameters of a pre-authorized action, keyed by
// parameter name. The enforcer does not pre-authorize calls whose
// arguments fall outside them, and the active agent calls Check
// before acting.
type Bounds map[string]Range

// Check verifies that every bounded parameter present in params is a
// number within its range. Missing parameters pass; the agent decides
// what its defaults are.
func (b Bounds) Check(params map[string]any) error {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, present := params[name]
		if !present {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("parameter %s: %v is not a number", name, raw)
		}
		limits := b[name]
		if limits.Min != nil && value < *limits.Min {
			return fmt.Errorf("parameter %s: %v is below the minimum %v", name, value, *limits.Min)
		}
		if limits.Max != nil && value > *limits.Max {
			return fmt.Errorf("parameter %s: %v is above the maximum %v", name, value, *limits.Max)
		}
	}
	return nil
}

func (b Bounds) validate() error {
	for name, limits := range b {
		if limits.Min != nil && limits.Max != nil && *limits.Min > *limits.Max {
			return fmt.Errorf("bounds for %s: min %v exceeds max %v", name, *limits.Min, *limits.Max)
		}
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
