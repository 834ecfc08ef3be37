// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package scope matches permission patterns against the hierarchical
// targets of tool calls.
//
// A scope is a colon-separated path from general to specific:
//
//	service:nginx:dev
//	host:db-primary
//	cluster:payments:deployment:api
//
// A pattern is matched segment by segment:
//
//   - "*" alone matches every scope.
//   - Each segment is a path.Match glob, so "nginx" matches exactly,
//     "*" matches any one segment, and "db-*" matches "db-primary".
//   - A pattern with fewer segments than the scope matches by prefix:
//     "service:nginx" grants "service:nginx:dev" and
//     "service:nginx:prod".
//   - A pattern with more segments than the scope never matches.
//
// A malformed glob segment matches only its own literal text.
// [Validate] reports malformed patterns so policy loading can reject
// them up front.
package scope

import (
	"fmt"
	"path"
	"strings"
)

// Separator divides scope segments.
const Separator = ":"

// Wildcard is the pattern that matches every scope.
const Wildcard = "*"

// Match reports whether pattern grants scope.
func Match(pattern, scope string) bool {
	if pattern == Wildcard {
		return true
	}
	if pattern == "" || scope == "" {
		return false
	}

	patternSegments := strings.Split(pattern, Separator)
	scopeSegments := strings.Split(scope, Separator)
	if len(patternSegments) > len(scopeSegments) {
		return false
	}
	for i, segment := range patternSegments {
		if !matchSegment(segment, scopeSegments[i]) {
			return false
		}
	}
	return true
}

// MatchName matches a single-segment name (a tool name) against a
// glob. "*" matches every name.
func MatchName(pattern, name string) bool {
	if pattern == Wildcard {
		return true
	}
	return matchSegment(pattern, name)
}

func matchSegment(pattern, segment string) bool {
	if pattern == segment {
		return true
	}
	matched, err := path.Match(pattern, segment)
	return err == nil && matched
}

// Validate reports whether pattern is well formed: non-empty, no
// empty segments, and every segment a valid glob.
func Validate(pattern string) error {
	if pattern == Wildcard {
		return nil
	}
	if pattern == "" {
		return fmt.Errorf("scope: empty pattern")
	}
	for i, segment := range strings.Split(pattern, Separator) {
		if segment == "" {
			return fmt.Errorf("scope: pattern %q has an empty segment at position %d", pattern, i)
		}
		if _, err := path.Match(segment, ""); err != nil {
			return fmt.Errorf("scope: pattern %q segment %q: %w", pattern, segment, err)
		}
	}
	return nil
}

// Join builds a scope from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}
