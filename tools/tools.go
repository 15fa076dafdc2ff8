// Package tools catalogs the tool schemas an agent subprocess is allowed
// to call. Tool execution itself happens inside that subprocess (or,
// when sandboxed, inside its container) — this package never runs a
// tool, it only names and describes the ones a session's allowed-tool
// list may reference.
package tools

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dere-run/dered/container"
	"github.com/dere-run/dered/llm"
)

// ErrToolAlreadyRegistered is returned when trying to register a duplicate tool name.
var ErrToolAlreadyRegistered = errors.New("tool already registered")

// ParamDef describes one parameter of a tool's input schema.
type ParamDef struct {
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// ToolDef is a tool's schema: a description plus its named parameters.
type ToolDef struct {
	Description string
	Params      map[string]ParamDef
}

// Tools is a catalog of registered tool schemas.
type Tools struct {
	mu        sync.RWMutex
	schemas   map[string]llm.ToolSchema
	container *container.Manager
}

// ToolsOption configures Tools.
type ToolsOption func(*Tools)

// NewTools creates an empty catalog.
func NewTools(opts ...ToolsOption) *Tools {
	t := &Tools{schemas: make(map[string]llm.ToolSchema)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithContainer associates a container manager so ContainerAvailable can
// report whether sandboxed tool names are actually runnable right now.
func WithContainer(cm *container.Manager) ToolsOption {
	return func(t *Tools) {
		t.container = cm
	}
}

// Register adds a tool's schema to the catalog.
func (t *Tools) Register(name string, def ToolDef) error {
	if name == "" {
		return errors.New("tool name is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.schemas[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	t.schemas[name] = buildSchema(name, def.Description, def.Params)
	return nil
}

// ContainerAvailable reports whether a sandboxed tool has somewhere to run.
func (t *Tools) ContainerAvailable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.container != nil && t.container.IsAvailable()
}

// Schema returns the schemas for every registered tool.
func (t *Tools) Schema() []llm.ToolSchema {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(t.schemas))
	for _, s := range t.schemas {
		out = append(out, s)
	}
	return out
}

func buildSchema(name, description string, params map[string]ParamDef) llm.ToolSchema {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))

	for pname, pdef := range params {
		prop := map[string]any{"type": pdef.Type}
		if pdef.Description != "" {
			prop["description"] = pdef.Description
		}
		if len(pdef.Enum) > 0 {
			prop["enum"] = pdef.Enum
		}
		props[pname] = prop

		if pdef.Required {
			required = append(required, pname)
		}
	}

	return llm.ToolSchema{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}
