// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// searchHorizon bounds Next so impossible dates (Feb 30) terminate.
const searchHorizon = 5 * 366 * 24 * time.Hour

var shorthands = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

// fieldSpec describes one of the five positions.
type fieldSpec struct {
	name string
	low  int
	high int
}

var fieldSpecs = [5]fieldSpec{
	{name: "minute", low: 0, high: 59},
	{name: "hour", low: 0, high: 23},
	{name: "day-of-month", low: 1, high: 31},
	{name: "month", low: 1, high: 12},
	{name: "day-of-week", low: 0, high: 6},
}

// set is a bitmask over the values 0-63.
type set uint64

func (s set) contains(value int) bool { return s&(1<<uint(value)) != 0 }

// Schedule is a parsed expression. The zero value never fires.
type Schedule struct {
	expression string

	minute, hour, dayOfMonth, month, dayOfWeek set

	// Whether each day field was restricted (anything but *).
	domRestricted, dowRestricted bool
}

// Parse parses an expression.
func Parse(expression string) (Schedule, error) {
	trimmed := strings.TrimSpace(expression)
	source := trimmed
	if expanded, ok := shorthands[trimmed]; ok {
		source = expanded
	} else if strings.HasPrefix(trimmed, "@") {
		return Schedule{}, fmt.Errorf("cron: unknown shorthand %q", trimmed)
	}

	fields := strings.Fields(source)
	if len(fields) != len(fieldSpecs) {
		return Schedule{}, fmt.Errorf("cron: %q has %d fields, want 5", expression, len(fields))
	}

	var parsed [5]set
	for i, field := range fields {
		values, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %s field: %w", fieldSpecs[i].name, err)
		}
		parsed[i] = values
	}

	return Schedule{
		expression:    trimmed,
		minute:        parsed[0],
		hour:          parsed[1],
		dayOfMonth:    parsed[2],
		month:         parsed[3],
		dayOfWeek:     parsed[4],
		domRestricted: fields[2] != "*",
		dowRestricted: fields[4] != "*",
	}, nil
}

// MustParse is Parse for expressions known at compile time.
func MustParse(expression string) Schedule {
	schedule, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return schedule
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string { return s.expression }

// IsZero reports whether s is the zero Schedule.
func (s Schedule) IsZero() bool { return s.minute == 0 }

// Next returns the first matching minute strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	if s.IsZero() {
		return time.Time{}, fmt.Errorf("cron: zero schedule")
	}

	candidate := t.UTC().Truncate(time.Minute).Add(time.Minute)
	horizon := candidate.Add(searchHorizon)

	for candidate.Before(horizon) {
		year, month, day := candidate.Date()
		switch {
		case !s.month.contains(int(month)):
			candidate = time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
		case !s.dayMatches(candidate):
			candidate = time.Date(year, month, day+1, 0, 0, 0, 0, time.UTC)
		case !s.hour.contains(candidate.Hour()):
			candidate = time.Date(year, month, day, candidate.Hour()+1, 0, 0, 0, time.UTC)
		case !s.minute.contains(candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("cron: %q never fires after %s", s.expression, t.UTC().Format(time.RFC3339))
}

func (s Schedule) dayMatches(t time.Time) bool {
	domMatch := s.dayOfMonth.contains(t.Day())
	dowMatch := s.dayOfWeek.contains(int(t.Weekday()))
	if s.domRestricted && s.dowRestricted {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}

// count returns how many values field i admits.
func (s Schedule) count(i int) int {
	return bits.OnesCount64(uint64([5]set{s.minute, s.hour, s.dayOfMonth, s.month, s.dayOfWeek}[i]))
}

func parseField(field string, spec fieldSpec) (set, error) {
	var result set
	for _, term := range strings.Split(field, ",") {
		values, err := parseTerm(term, spec)
		if err != nil {
			return 0, err
		}
		result |= values
	}
	return result, nil
}

func parseTerm(term string, spec fieldSpec) (set, error) {
	if term == "" {
		return 0, fmt.Errorf("empty term")
	}

	body, stepText, stepped := strings.Cut(term, "/")
	step := 1
	if stepped {
		value, err := strconv.Atoi(stepText)
		if err != nil || value <= 0 {
			return 0, fmt.Errorf("step %q must be a positive integer", stepText)
		}
		step = value
	}

	first, last := spec.low, spec.high
	switch {
	case body == "*":
	case strings.Contains(body, "-"):
		lowText, highText, _ := strings.Cut(body, "-")
		var err error
		if first, err = atoiInRange(lowText, spec); err != nil {
			return 0, err
		}
		if last, err = atoiInRange(highText, spec); err != nil {
			return 0, err
		}
		if first > last {
			return 0, fmt.Errorf("range %d-%d is reversed", first, last)
		}
	default:
		value, err := atoiInRange(body, spec)
		if err != nil {
			return 0, err
		}
		first = value
		if !stepped {
			last = value
		}
	}

	var result set
	for value := first; value <= last; value += step {
		result |= 1 << uint(value)
	}
	return result, nil
}

func atoiInRange(text string, spec fieldSpec) (int, error) {
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	if value < spec.low || value > spec.high {
		return 0, fmt.Errorf("%d is outside %d-%d", value, spec.low, spec.high)
	}
	return value, nil
}
