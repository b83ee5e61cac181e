package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// Definition is the serializable description of a tool, sent to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry maps tool names to implementations. It is populated at startup
// and treated as immutable for the duration of a run.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	charLimits map[string]int
	lineLimits map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the serializable definitions of all tools, sorted by
// name for stable request bodies.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SetOutputLimits overrides the per-tool character and line caps applied to
// dispatched output. Nil maps keep the built-in defaults.
func (r *Registry) SetOutputLimits(charLimits, lineLimits map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charLimits = charLimits
	r.lineLimits = lineLimits
}

// Dispatch resolves and executes a tool call. It never returns an error and
// never panics: unknown names, Execute errors, and panics inside Execute are
// all folded into a failed Result so the conversation can absorb them.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (result Result) {
	t := r.Get(name)
	if t == nil {
		return Fail(fmt.Sprintf("Unknown tool: %s", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Fail(fmt.Sprintf("tool %s panicked: %v\n%s", name, rec, debug.Stack()))
		}
		result.Content = r.truncate(name, result.Content)
	}()

	if args == nil {
		args = map[string]any{}
	}
	res, err := t.Execute(ctx, args)
	if err != nil {
		return Fail(err.Error())
	}
	return res
}

func (r *Registry) truncate(name, content string) string {
	r.mu.RLock()
	charLimits, lineLimits := r.charLimits, r.lineLimits
	r.mu.RUnlock()
	return TruncateToolOutput(content, name, charLimits, lineLimits)
}
