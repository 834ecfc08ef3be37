// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers escalation notifications to approvers.
// Every type here implements escalation.Notifier: Log writes to the
// service log, SMTP sends plain-text email, Kafka publishes a JSON
// event, and Multi fans one notification out to several channels.
package notify
