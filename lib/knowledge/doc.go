// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package knowledge is the query service agents use to ground their
// conclusions.
//
// Knowledge is tiered by provenance. Tier 1 (internal) is the
// operator's own runbooks and notes, indexed from a directory by
// LocalIndex. Tier 2 (specialized) is what Overwatch has learned
// itself, the conclusions and recommendations in recent evidence,
// served by EvidenceSource. Tier 3 (internet) is anything fetched
// from outside; a query reaches it only when the caller sets
// Query.AllowInternet and the router was built with internet access
// enabled.
//
// Every result carries a confidence Score in [0, 1] and the tier's
// TrustScore. Queries are read-only and are not routed through the
// RBAC enforcer.
package knowledge
