// Package hooks adapts an earlier hooks.Manager to the lifecycle points a
// manager config exposes on top of boot/shutdown: OnAllComponentsLoaded
// fires once Manager's component Load succeeds, OnLogRotate runs the hooks
// registered for it (originally a direct Manager method, generalized here
// to any number of listeners since a Go service may register more than one
// log sink). A component's own OnLogRotate method is not called unless a
// hook that calls it is registered.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HookFunc is one registered callback.
type HookFunc func(ctx context.Context) error

// Phase names a point in Manager's boot/shutdown sequence a Hook can latch
// onto.
type Phase string

const (
	BeforeStart          Phase = "before_start"
	AfterStart           Phase = "after_start"
	OnAllComponentsLoaded Phase = "on_all_components_loaded"
	OnLogRotate          Phase = "on_log_rotate"
	BeforeShutdown       Phase = "before_shutdown"
	AfterShutdown        Phase = "after_shutdown"
)

var validPhases = map[Phase]bool{
	BeforeStart: true, AfterStart: true, OnAllComponentsLoaded: true,
	OnLogRotate: true, BeforeShutdown: true, AfterShutdown: true,
}

// Hook is one registered callback plus its ordering within a Phase.
type Hook struct {
	Name     string
	Phase    Phase
	Function HookFunc
	Priority int // lower runs first
}

// Manager collects and runs Hooks by Phase.
type Manager struct {
	mu    sync.RWMutex
	hooks map[Phase][]*Hook
}

// NewManager returns an empty hook Manager.
func NewManager() *Manager {
	return &Manager{hooks: make(map[Phase][]*Hook)}
}

// Register adds hook to its Phase, keeping each phase's slice sorted by
// Priority.
func (m *Manager) Register(hook *Hook) error {
	if hook == nil {
		return fmt.Errorf("hooks: hook cannot be nil")
	}
	if hook.Function == nil {
		return fmt.Errorf("hooks: hook %q has no function", hook.Name)
	}
	if !validPhases[hook.Phase] {
		return fmt.Errorf("hooks: invalid phase %q", hook.Phase)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[hook.Phase] = append(m.hooks[hook.Phase], hook)
	sort.SliceStable(m.hooks[hook.Phase], func(i, j int) bool {
		return m.hooks[hook.Phase][i].Priority < m.hooks[hook.Phase][j].Priority
	})
	return nil
}

// Execute runs every hook registered for phase, in priority order, stopping
// and returning at the first error.
func (m *Manager) Execute(ctx context.Context, phase Phase) error {
	m.mu.RLock()
	hooks := make([]*Hook, len(m.hooks[phase]))
	copy(hooks, m.hooks[phase])
	m.mu.RUnlock()

	for _, h := range hooks {
		if err := h.Function(ctx); err != nil {
			return fmt.Errorf("hook %s failed: %w", h.Name, err)
		}
	}
	return nil
}
