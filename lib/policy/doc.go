// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy holds the expert-curated rules that govern agents:
// one [RBACPolicy] per agent and any number of [PreAuthPolicy] rules
// for bounded automation. Both arrive in a single document, authored
// as YAML or as JSONC (JSON with comments and trailing commas) and
// told apart by file extension:
//
//	agents:
//	  - agent_name: health-monitor
//	    role: passive
//	    permissions:
//	      - {tool: "*", scope: "*", approval_type: none}
//	    can_escalate_to: [executor]
//	  - agent_name: executor
//	    role: active
//	    requires_approval_from: [ops-lead]
//	    permissions:
//	      - tool: restart_service
//	        scope: service:*:dev
//	        approval_type: pre_authorized
//	        conditions: {environment: dev}
//	      - {tool: restart_service, scope: "*", approval_type: human_required}
//	pre_authorizations:
//	  - policy_id: restart-dev-services
//	    active_agent: executor
//	    action: restart_service
//	    conditions: {environment: dev}
//	    max_attempts: 3
//	    cooldown: 30m
//
// [Load] parses and validates the document into a [Set], which agents
// and the enforcer only ever read. A document that fails validation is
// rejected as a whole with an error wrapping [ErrInvalidPolicy].
package policy
