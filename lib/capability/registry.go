// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/overwatch-ops/overwatch/lib/authz"
)

var (
	// ErrDuplicateTool is returned by Register for a name already taken.
	ErrDuplicateTool = errors.New("capability: tool already registered")

	// ErrMissingTool is returned by Bind when a required tool is not
	// registered.
	ErrMissingTool = errors.New("capability: required tool not registered")

	// ErrToolNotAvailable is returned by Boundary.Invoke for a tool
	// that was not bound to the agent.
	ErrToolNotAvailable = errors.New("capability: tool not available to this agent")
)

// Func implements a tool. scope is the target of the call; args are
// the agent's arguments or, for a ticketed call, the approved
// parameters.
type Func func(ctx context.Context, scope string, args map[string]any) (Result, error)

// Result is what a tool reports back.
type Result struct {
	// Summary is a one-line account of what happened.
	Summary string

	// Data holds structured output.
	Data map[string]any

	// Reversible and RollbackHint describe how to undo a
	// state-changing call.
	Reversible   bool
	RollbackHint string
}

// Tool is a named, kind-tagged function.
type Tool struct {
	Name        string
	Kind        authz.Kind
	Description string
	Func        Func
}

// ReadOnly builds a tool that only observes.
func ReadOnly(name string, fn Func) Tool {
	return Tool{Name: name, Kind: authz.ReadOnly, Func: fn}
}

// StateChanging builds a tool that can change the systems it touches.
func StateChanging(name string, fn Func) Tool {
	return Tool{Name: name, Kind: authz.StateChanging, Func: fn}
}

// Describe returns a copy of t with its description set.
func (t Tool) Describe(description string) Tool {
	t.Description = description
	return t
}

// Registry holds every tool the process offers. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("capability: tool has no name")
	}
	if tool.Func == nil {
		return fmt.Errorf("capability: tool %s has no function", tool.Name)
	}
	if tool.Kind != authz.ReadOnly && tool.Kind != authz.StateChanging {
		return fmt.Errorf("capability: tool %s has invalid kind %v", tool.Name, tool.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools returns every registered tool sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Bind resolves agent's tool set. Every required tool must be
// registered; optional tools are included when present.
func (r *Registry) Bind(agent string, required, optional []string) (Toolset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(Toolset, len(required)+len(optional))
	var missing []error
	for _, name := range required {
		tool, ok := r.tools[name]
		if !ok {
			missing = append(missing, fmt.Errorf("%w: agent %s needs %s", ErrMissingTool, agent, name))
			continue
		}
		set[name] = tool
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	for _, name := range optional {
		if tool, ok := r.tools[name]; ok {
			set[name] = tool
		}
	}
	return set, nil
}

// Toolset is the tools bound to one agent, by name.
type Toolset map[string]Tool

// Names returns the bound tool names, sorted.
func (s Toolset) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
