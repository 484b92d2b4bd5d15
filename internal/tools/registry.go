package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Failure kinds reported in tool error results.
const (
	KindValidation = "ValidationError"
	KindTimeout    = "Timeout"
	KindCanceled   = "Canceled"
	KindExecution  = "ExecutionError"
	KindPanic      = "Panic"
)

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. A tool with the same name is replaced.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		slog.Debug("Replacing registered tool", "name", tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}

// Without returns a new registry holding every tool except the named ones.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}

	out := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, tool := range r.tools {
		if !skip[name] {
			out.tools[name] = tool
		}
	}
	return out
}

// Definitions returns tool definitions in OpenAI format, sorted by name.
func (r *Registry) Definitions() []map[string]any {
	list := r.List()
	result := make([]map[string]any, 0, len(list))
	for _, tool := range list {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name. The result is always text: unknown tools,
// validation failures, returned errors and panics are rendered as error
// strings for the model instead of being propagated.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result string) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'. Available tools: %s", name, strings.Join(r.Names(), ", "))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "tool", name, "panic", rec)
			result = formatFailure(name, KindPanic, fmt.Sprint(rec))
		}
	}()

	cleaned, err := ValidateParams(tool.Parameters(), params)
	if err != nil {
		slog.Warn("Tool validation failed", "tool", name, "error", err)
		return formatFailure(name, KindValidation, err.Error())
	}

	out, err := tool.Execute(ctx, cleaned)
	if err != nil {
		kind := KindExecution
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = KindTimeout
		case errors.Is(err, context.Canceled):
			kind = KindCanceled
		}
		slog.Error("Tool execution failed", "tool", name, "kind", kind, "error", err)
		return formatFailure(name, kind, err.Error())
	}

	slog.Debug("Tool executed", "tool", name, "result_len", len(out))
	return out
}

func formatFailure(name, kind, msg string) string {
	return fmt.Sprintf("%s error: %s: %s", name, kind, msg)
}
