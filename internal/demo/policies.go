// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package demo

// Policies is the policy document the demo agents run under.
// Restarts in dev are pre-authorized three times per half hour; any
// other restart needs ops-lead or sre-oncall.
const Policies = `agents:
  - agent_name: health-monitor
    role: passive
    permissions:
      - {tool: list_services, scope: fleet, approval_type: none}
      - {tool: get_service_health, scope: "service:*", approval_type: none}
    can_escalate_to: [executor]

  - agent_name: executor
    role: active
    requires_approval_from: [ops-lead, sre-oncall]
    permissions:
      - tool: restart_service
        scope: "service:*:dev"
        approval_type: pre_authorized
        conditions: {environment: dev}
      - {tool: restart_service, scope: "service:*", approval_type: human_required}
      - {tool: scale_service, scope: "service:*:staging", approval_type: pre_authorized, policy: scale-staging}
      - {tool: scale_service, scope: "service:*", approval_type: human_required}
      - {tool: clear_cache, scope: "cache:*", approval_type: none}

pre_authorizations:
  - policy_id: restart-dev-services
    active_agent: executor
    action: restart_service
    conditions: {environment: dev}
    max_attempts: 3
    cooldown: 30m

  - policy_id: scale-staging
    active_agent: executor
    action: scale_service
    bounds:
      replicas: {min: 1, max: 5}
    max_attempts: 2
    cooldown: 1h
`
