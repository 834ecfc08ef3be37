// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses the schedule expressions agents declare and
// computes their next firing time.
//
// An expression is either one of the shorthands @hourly, @daily,
// @weekly, @monthly, or five whitespace-separated fields:
//
//	minute hour day-of-month month day-of-week
//
// Fields accept *, single values, ranges (1-5), lists (1,3,5) and
// steps (*/15, 10-40/10). Day-of-week runs 0-6 with 0 as Sunday.
//
// When both day fields are restricted a day matches if either of them
// matches, as in Vixie cron. Every computation is in UTC.
package cron
