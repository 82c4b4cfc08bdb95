// ABOUTME: Thread-safe registry mapping tool names to declarations, grouped into packs.
// ABOUTME: Rejects name collisions across packs and preserves registration order.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultPack is the pack that Register adds tools to.
const DefaultPack = "default"

// ErrPackAlreadyRegistered indicates a pack with the same ID is already registered.
var ErrPackAlreadyRegistered = errors.New("pack already registered")

// ErrToolCollision indicates a tool name already exists in the registry.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidTool indicates a tool declaration missing its name.
var ErrInvalidTool = errors.New("invalid tool")

type entry struct {
	tool   *Tool
	packID string
}

// Registry maintains tools by name.
type Registry struct {
	mu     sync.RWMutex
	packs  map[string][]string // packID -> tool names
	tools  map[string]*entry
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		packs:  make(map[string][]string),
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// Register adds tools to the default pack.
// Returns ErrToolCollision if any name is already registered.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(tools); err != nil {
		return err
	}
	r.addLocked(DefaultPack, tools)
	return nil
}

// RegisterPack adds a named group of tools.
// Returns ErrPackAlreadyRegistered if the pack exists, ErrToolCollision if any
// tool name is already taken.
func (r *Registry) RegisterPack(packID string, tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.packs[packID]; exists {
		return ErrPackAlreadyRegistered
	}
	if err := r.checkLocked(tools); err != nil {
		return err
	}
	r.addLocked(packID, tools)

	r.logger.Info("=== PACK REGISTERED ===",
		"pack_id", packID,
		"tool_count", len(tools),
		"total_tools", len(r.tools),
	)
	return nil
}

// checkLocked validates a batch against the registry and itself. Must be called with mu held.
func (r *Registry) checkLocked(tools []Tool) error {
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidTool)
		}
		if existing, ok := r.tools[t.Name]; ok {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, t.Name, existing.packID)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: tool '%s' declared twice", ErrToolCollision, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// addLocked stores a validated batch. Must be called with mu held.
func (r *Registry) addLocked(packID string, tools []Tool) {
	for _, t := range tools {
		tool := t
		r.tools[t.Name] = &entry{tool: &tool, packID: packID}
		r.packs[packID] = append(r.packs[packID], t.Name)
		r.order = append(r.order, t.Name)
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns model-facing definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool.Definition())
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
