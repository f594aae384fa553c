// Package tools defines the callable functions exposed to the language model
// and the registry the turn engine invokes them through. Every tool returns a
// JSON result string: {"status", "message", ...} on success or
// {"error", "details"} on failure, so results are always speakable or
// loggable.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Param describes one named tool parameter.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     string
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// Func executes a tool with string-valued named arguments and returns the
// JSON result. The error return is for internal faults only; expected
// failures are encoded into the result via [ErrorResult].
type Func func(ctx context.Context, args map[string]string) (string, error)

// Registry holds registered tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registered
}

type registered struct {
	def Definition
	fn  Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

// Register adds a tool. Registering a duplicate or empty name is an error.
func (r *Registry) Register(def Definition, fn Func) error {
	if def.Name == "" {
		return fmt.Errorf("tools: definition has no name")
	}
	if fn == nil {
		return fmt.Errorf("tools: %s has no function", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("tools: %s already registered", def.Name)
	}
	r.tools[def.Name] = registered{def: def, fn: fn}
	r.order = append(r.order, def.Name)
	return nil
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke runs the named tool. Missing required arguments and unknown tools
// yield an error-result JSON string, not a Go error, so the model always
// receives something it can relay. Defaults are filled in for absent optional
// arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (string, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("unknown tool", name), nil
	}

	filled := make(map[string]string, len(args))
	for k, v := range args {
		filled[k] = v
	}
	for _, p := range reg.def.Params {
		if _, present := filled[p.Name]; present {
			continue
		}
		if p.Required {
			return ErrorResult("missing required parameter", p.Name), nil
		}
		if p.Default != "" {
			filled[p.Name] = p.Default
		}
	}

	slog.Info("tools: invoking", "tool", name)
	result, err := reg.fn(ctx, filled)
	if err != nil {
		slog.Error("tools: invocation failed", "tool", name, "error", err)
		return ErrorResult("tool execution failed", err.Error()), nil
	}
	return result, nil
}

// SuccessResult encodes a success payload. extra keys are merged alongside
// status and message.
func SuccessResult(message string, extra map[string]string) string {
	payload := map[string]string{
		"status":  "ok",
		"message": message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return mustJSON(payload)
}

// ErrorResult encodes a failure payload.
func ErrorResult(errMsg, details string) string {
	return mustJSON(map[string]string{
		"error":   errMsg,
		"details": details,
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// map[string]string cannot fail to marshal.
		return `{"error":"internal","details":"result encoding failed"}`
	}
	return string(b)
}
