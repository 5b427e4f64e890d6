package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NotFoundError is returned by Resolve for an unregistered tool type. It
// enumerates the registered set so the job record carries an actionable
// message instead of a bare miss.
type NotFoundError struct {
	ToolType   string
	Registered []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no plugin registered for tool type %q (registered: %s)",
		e.ToolType, strings.Join(e.Registered, ", "))
}

// Registry holds one ToolPlugin per vendor. Registration happens once at
// process start; Freeze makes the registry immutable, after which Resolve
// is safe for unsynchronized concurrent reads from many workers.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	plugins map[string]ToolPlugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]ToolPlugin)}
}

// Register adds an implementation for a tool type. Fails fast on a nil or
// mismatched implementation rather than at first use.
func (r *Registry) Register(toolType string, impl ToolPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen; register plugins at startup only")
	}
	if toolType == "" {
		return fmt.Errorf("tool type must not be empty")
	}
	if impl == nil {
		return fmt.Errorf("plugin for %q is nil", toolType)
	}
	if impl.ToolType() != toolType {
		return fmt.Errorf("plugin reports tool type %q, registered as %q", impl.ToolType(), toolType)
	}
	if _, exists := r.plugins[toolType]; exists {
		return fmt.Errorf("tool type %q already registered", toolType)
	}
	r.plugins[toolType] = impl
	return nil
}

// Freeze seals the registry. Call after all Register calls in main.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Resolve returns the plugin for a tool type or a *NotFoundError listing
// the registered types. Never panics; an unknown tool type is an expected
// per-job failure, not a crash.
func (r *Registry) Resolve(toolType string) (ToolPlugin, error) {
	impl, ok := r.plugins[toolType]
	if !ok {
		return nil, &NotFoundError{ToolType: toolType, Registered: r.Registered()}
	}
	return impl, nil
}

// Registered returns the sorted list of registered tool types.
func (r *Registry) Registered() []string {
	types := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
