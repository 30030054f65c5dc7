// Package component implements a dependency-aware Component Context:
// components are constructed in parallel, each on its own coroutine Task,
// discovering their dependencies at runtime by calling FindComponent from
// inside their own constructor rather than declaring them up front.
//
// The prior core.Container design builds components from a statically
// declared Dependencies() list and a pre-computed topological sort —
// exactly the model this package replaces. It keeps that
// container's duplicate/missing-dependency error handling and its
// mutex-guarded map-of-components shape, but turns the sort into an online
// wait-graph: a FindComponent call that would have to block records an edge
// "builder X is waiting on Y" and the edge insertion itself is the cycle
// check, since a cycle can only appear at the moment the edge closing the
// loop is added.
package component

import (
	"fmt"
	"sync"
	"time"

	"github.com/shuva10v/userver-go/internal/task"
	"github.com/shuva10v/userver-go/internal/taskproc"
)

// Component is the opaque handle a factory returns; the context itself
// never inspects it. Components that need teardown implement ClearComponent
// (the tear-down hook), discovered by a type assertion in ClearAll.
type Component any

// ClearComponent is implemented by components that hold resources needing
// explicit release on shutdown (file descriptors, pools, background tasks).
type ClearComponent interface {
	ClearComponent()
}

// Factory constructs one component. bc.FindComponent lets it discover
// dependencies at construction time; a call on a dependency still being
// built suspends the caller's Task rather than blocking a worker thread.
type Factory func(bc *BuildContext) (Component, error)

type status int

const (
	statusPending status = iota
	statusLoading
	statusReady
	statusFailed
)

type componentState struct {
	factory Factory
	status  status
	value   Component
	err     error
	ready   chan struct{}
}

// Context is the ComponentContext: a registry of factories
// plus the in-flight construction state needed to resolve them against each
// other concurrently.
type Context struct {
	proc *taskproc.Processor

	mu       sync.Mutex
	states   map[string]*componentState
	order    []string // registration order, used for deterministic iteration
	disabled map[string]bool
	waitFor  map[string]string          // builder name -> name it is currently blocked on
	depEdges map[string]map[string]bool // builder name -> every name it has ever FindComponent'd, persisted for ClearAll's teardown order

	stallTimeout  time.Duration
	lastProgress  time.Time
	cancelledLoad bool
	cancelCause   error
	tasks         map[string]*task.Task[Component]
}

// Config mirrors the subset of the manager config that governs
// component loading.
type Config struct {
	// StallTimeout bounds how long Load will wait without any component
	// transitioning to ready/failed before declaring ErrLoadStalled. Zero
	// disables stall detection (useful in tests with deliberately slow
	// factories).
	StallTimeout time.Duration
}

// New creates an empty Context bound to proc, on which every component's
// constructor Task will run.
func New(proc *taskproc.Processor, cfg Config) *Context {
	return &Context{
		proc:         proc,
		states:       make(map[string]*componentState),
		disabled:     make(map[string]bool),
		waitFor:      make(map[string]string),
		depEdges:     make(map[string]map[string]bool),
		tasks:        make(map[string]*task.Task[Component]),
		stallTimeout: cfg.StallTimeout,
	}
}

// AddComponent registers factory under name. Must be called before Load;
// returns ErrDuplicateComponent if name is already registered.
func (c *Context) AddComponent(name string, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.states[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicateComponent)
	}
	c.states[name] = &componentState{factory: factory, status: statusPending, ready: make(chan struct{})}
	c.order = append(c.order, name)
	return nil
}

// Disable marks name as disabled: any FindComponent on it fails fast with
// ErrDisabled without ever running its factory. Must be called before Load.
func (c *Context) Disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[name] = true
}

// ComponentNames returns every registered name in registration order.
func (c *Context) ComponentNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
