// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/overwatch-ops/overwatch/lib/capability"
)

// Tool names.
const (
	ListServices     = "list_services"
	GetServiceHealth = "get_service_health"
	RestartService   = "restart_service"
	ScaleService     = "scale_service"
	ClearCache       = "clear_cache"
)

// FleetScope is the scope list_services is called on.
const FleetScope = "fleet"

// RegisterTools adds the fleet's tools to tools.
func (f *Fleet) RegisterTools(tools *capability.Registry) error {
	for _, tool := range []capability.Tool{
		capability.ReadOnly(ListServices, f.listServices).
			Describe("List every service scope in the fleet."),
		capability.ReadOnly(GetServiceHealth, f.getServiceHealth).
			Describe("Report a service's health and replica count."),
		capability.StateChanging(RestartService, f.restartService).
			Describe("Restart a service."),
		capability.StateChanging(ScaleService, f.scaleService).
			Describe("Set a service's replica count. Args: replicas."),
		capability.StateChanging(ClearCache, f.clearCacheTool).
			Describe("Clear a named cache."),
	} {
		if err := tools.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fleet) listServices(ctx context.Context, scope string, args map[string]any) (capability.Result, error) {
	scopes := f.Scopes()
	return capability.Result{
		Summary: fmt.Sprintf("%d services", len(scopes)),
		Data:    map[string]any{"services": scopes},
	}, nil
}

func (f *Fleet) getServiceHealth(ctx context.Context, scope string, args map[string]any) (capability.Result, error) {
	service, ok := f.State(scope)
	if !ok {
		return capability.Result{}, fmt.Errorf("demo: no service %s", scope)
	}
	health := "healthy"
	if !service.Healthy {
		health = "unhealthy"
	}
	return capability.Result{
		Summary: fmt.Sprintf("%s is %s with %d replicas", scope, health, service.Replicas),
		Data: map[string]any{
			"healthy":     service.Healthy,
			"replicas":    service.Replicas,
			"restarts":    service.Restarts,
			"environment": service.Environment,
		},
	}, nil
}

func (f *Fleet) restartService(ctx context.Context, scope string, args map[string]any) (capability.Result, error) {
	service, err := f.restart(scope)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Summary: fmt.Sprintf("restarted %s (restart %d)", scope, service.Restarts),
		Data:    map[string]any{"restarts": service.Restarts},
	}, nil
}

func (f *Fleet) scaleService(ctx context.Context, scope string, args map[string]any) (capability.Result, error) {
	replicas, err := intArg(args, "replicas")
	if err != nil {
		return capability.Result{}, err
	}
	previous, err := f.scale(scope, replicas)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Summary:      fmt.Sprintf("scaled %s from %d to %d replicas", scope, previous, replicas),
		Data:         map[string]any{"previous": previous, "replicas": replicas},
		Reversible:   true,
		RollbackHint: fmt.Sprintf("scale_service %s replicas=%d", scope, previous),
	}, nil
}

func (f *Fleet) clearCacheTool(ctx context.Context, scope string, args map[string]any) (capability.Result, error) {
	if err := f.clearCache(scope); err != nil {
		return capability.Result{}, err
	}
	return capability.Result{Summary: "cleared " + scope}, nil
}

// intArg reads an integer argument that may arrive as any numeric
// type or as a string from the CLI.
func intArg(args map[string]any, name string) (int, error) {
	switch value := args[name].(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case uint64:
		return int(value), nil
	case float64:
		if value != float64(int(value)) {
			return 0, fmt.Errorf("demo: %s must be a whole number, got %v", name, value)
		}
		return int(value), nil
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("demo: %s: %w", name, err)
		}
		return parsed, nil
	case nil:
		return 0, fmt.Errorf("demo: missing argument %s", name)
	default:
		return 0, fmt.Errorf("demo: %s has unsupported type %T", name, value)
	}
}
