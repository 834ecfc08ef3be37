// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		expression string
		wantErr    string
	}{
		{"", "has 0 fields"},
		{"* * * *", "has 4 fields"},
		{"* * * * * *", "has 6 fields"},
		{"60 * * * *", "outside 0-59"},
		{"* 24 * * *", "outside 0-23"},
		{"* * 0 * *", "outside 1-31"},
		{"* * * 13 *", "outside 1-12"},
		{"* * * * 7", "outside 0-6"},
		{"*/0 * * * *", "positive integer"},
		{"30-10 * * * *", "reversed"},
		{"x * * * *", "not a number"},
		{"1,,2 * * * *", "empty term"},
		{"@fortnightly", "unknown shorthand"},
	}
	for _, test := range tests {
		t.Run(test.expression, func(t *testing.T) {
			_, err := Parse(test.expression)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded", test.expression)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse(%q) = %v, want it to mention %q", test.expression, err, test.wantErr)
			}
		})
	}
}

func TestParseFieldCounts(t *testing.T) {
	schedule := MustParse("*/15 9-17 1,15 * 1-5")
	want := [5]int{4, 9, 2, 12, 5}
	for i, count := range want {
		if got := schedule.count(i); got != count {
			t.Errorf("%s field admits %d values, want %d", fieldSpecs[i].name, got, count)
		}
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		from       time.Time
		want       time.Time
	}{
		{"every_minute", "* * * * *", at(2026, 3, 1, 10, 30), at(2026, 3, 1, 10, 31)},
		{"strictly_after", "30 10 * * *", at(2026, 3, 1, 10, 30), at(2026, 3, 2, 10, 30)},
		{"seconds_truncated", "* * * * *", at(2026, 3, 1, 10, 30).Add(45 * time.Second), at(2026, 3, 1, 10, 31)},
		{"every_five_minutes", "*/5 * * * *", at(2026, 3, 1, 10, 31), at(2026, 3, 1, 10, 35)},
		{"stepped_start", "10/20 * * * *", at(2026, 3, 1, 10, 31), at(2026, 3, 1, 10, 50)},
		{"hourly", "@hourly", at(2026, 3, 1, 10, 1), at(2026, 3, 1, 11, 0)},
		{"daily_rolls_month", "@daily", at(2026, 3, 31, 12, 0), at(2026, 4, 1, 0, 0)},
		{"weekly_sunday", "@weekly", at(2026, 3, 4, 0, 0), at(2026, 3, 8, 0, 0)},
		{"monthly_rolls_year", "@monthly", at(2026, 12, 15, 0, 0), at(2027, 1, 1, 0, 0)},
		{"leap_day", "0 0 29 2 *", at(2026, 3, 1, 0, 0), at(2028, 2, 29, 0, 0)},
		{"weekdays_only", "0 9 * * 1-5", at(2026, 3, 6, 9, 0), at(2026, 3, 9, 9, 0)},
		// 2026-03-01 is a Sunday: the 15th and Mondays both match.
		{"day_fields_or", "0 0 15 * 1", at(2026, 3, 1, 0, 0), at(2026, 3, 2, 0, 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, err := MustParse(test.expression).Next(test.from)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !next.Equal(test.want) {
				t.Errorf("Next(%s) = %s, want %s", test.from.Format(time.RFC3339), next.Format(time.RFC3339), test.want.Format(time.RFC3339))
			}
		})
	}
}

func TestNextConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, zone) // 07:00 UTC
	next, err := MustParse("0 8 * * *").Next(from)
	if err != nil {
		t.Fatal(err)
	}
	if want := at(2026, 3, 1, 8, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
	if next.Location() != time.UTC {
		t.Errorf("Next location = %v, want UTC", next.Location())
	}
}

func TestNextImpossibleDate(t *testing.T) {
	_, err := MustParse("0 0 30 2 *").Next(at(2026, 1, 1, 0, 0))
	if err == nil || !strings.Contains(err.Error(), "never fires") {
		t.Fatalf("Next on Feb 30 = %v, want never-fires error", err)
	}
}

func TestZeroSchedule(t *testing.T) {
	var schedule Schedule
	if !schedule.IsZero() {
		t.Fatal("zero Schedule not IsZero")
	}
	if _, err := schedule.Next(at(2026, 1, 1, 0, 0)); err == nil {
		t.Fatal("zero Schedule fired")
	}
}

func TestString(t *testing.T) {
	if got := MustParse("  @daily ").String(); got != "@daily" {
		t.Errorf("String() = %q, want @daily", got)
	}
	if got := MustParse("0 7 * * *").String(); got != "0 7 * * *" {
		t.Errorf("String() = %q", got)
	}
}
