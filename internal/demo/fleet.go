// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ServiceState is one simulated service.
type ServiceState struct {
	Name        string
	Environment string
	Healthy     bool
	Replicas    int
	Restarts    int
}

// Scope returns the service's scope, service:{name}:{environment}.
func (s ServiceState) Scope() string {
	return "service:" + s.Name + ":" + s.Environment
}

// Fleet is an in-memory set of services. It is safe for concurrent
// use.
type Fleet struct {
	mu       sync.Mutex
	services map[string]*ServiceState
	caches   map[string]int
}

// NewFleet returns a fleet holding services.
func NewFleet(services ...ServiceState) *Fleet {
	fleet := &Fleet{services: make(map[string]*ServiceState), caches: make(map[string]int)}
	for _, service := range services {
		copied := service
		fleet.services[service.Scope()] = &copied
	}
	return fleet
}

// DefaultFleet is the fleet serve --demo starts with: one service per
// environment, all healthy.
func DefaultFleet() *Fleet {
	return NewFleet(
		ServiceState{Name: "nginx", Environment: "dev", Healthy: true, Replicas: 1},
		ServiceState{Name: "api", Environment: "staging", Healthy: true, Replicas: 2},
		ServiceState{Name: "db", Environment: "prod", Healthy: true, Replicas: 3},
	)
}

// Break marks a service unhealthy.
func (f *Fleet) Break(scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	service, ok := f.services[scope]
	if !ok {
		return fmt.Errorf("demo: no service %s", scope)
	}
	service.Healthy = false
	return nil
}

// State returns a copy of the service at scope.
func (f *Fleet) State(scope string) (ServiceState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	service, ok := f.services[scope]
	if !ok {
		return ServiceState{}, false
	}
	return *service, true
}

// Scopes lists every service scope, sorted.
func (f *Fleet) Scopes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	scopes := make([]string, 0, len(f.services))
	for scope := range f.services {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// CacheClears returns how many times cache:{name} was cleared.
func (f *Fleet) CacheClears(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caches[name]
}

func (f *Fleet) restart(scope string) (ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	service, ok := f.services[scope]
	if !ok {
		return ServiceState{}, fmt.Errorf("demo: no service %s", scope)
	}
	service.Healthy = true
	service.Restarts++
	return *service, nil
}

func (f *Fleet) scale(scope string, replicas int) (previous int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	service, ok := f.services[scope]
	if !ok {
		return 0, fmt.Errorf("demo: no service %s", scope)
	}
	if replicas < 0 {
		return 0, fmt.Errorf("demo: negative replica count %d", replicas)
	}
	previous, service.Replicas = service.Replicas, replicas
	return previous, nil
}

func (f *Fleet) clearCache(scope string) error {
	name, ok := strings.CutPrefix(scope, "cache:")
	if !ok || name == "" {
		return fmt.Errorf("demo: %s is not a cache scope", scope)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caches[name]++
	return nil
}
