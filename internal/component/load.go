package component

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shuva10v/userver-go/internal/task"
)

// BuildContext is handed to exactly one Factory invocation: the coroutine
// view of "I am currently constructing component name, on handle h, inside
// the shared Context cc."
type BuildContext struct {
	cc   *Context
	name string
	h    *task.Handle
}

// Name returns the name of the component currently being constructed.
func (bc *BuildContext) Name() string { return bc.name }

// FindComponent resolves name, discovered at runtime from inside a
// factory. If name's component is still under
// construction, the calling Task suspends — freeing its worker lane —
// until it becomes ready, fails, or a cycle/stall/cancellation aborts the
// wait.
func (bc *BuildContext) FindComponent(name string) (Component, error) {
	return bc.cc.findComponent(name, bc.name, bc.h)
}

// Load constructs every registered, non-disabled component concurrently,
// one coroutine Task per component, and blocks (via the calling goroutine,
// not a coroutine of its own — Load is meant to be called from Manager's
// boot sequence) until every component has reached a terminal state or the
// whole load is aborted.
//
// Grounded on userver's CreateComponentContext/AddComponents: components
// are added in one batch and constructed in parallel. A cycle or stall
// fails the whole Load rather than just the component that discovered it;
// a stall also cancels every outstanding construction, but a failed
// construction does not cancel the others, and Load still waits for each
// of them to finish.
func (c *Context) Load() error {
	c.mu.Lock()
	c.lastProgress = time.Now()
	names := make([]string, len(c.order))
	copy(names, c.order)
	c.mu.Unlock()

	var watchdogStop, stalledCh chan struct{}
	if c.stallTimeout > 0 {
		watchdogStop = make(chan struct{})
		stalledCh = make(chan struct{})
		go c.stallWatchdog(watchdogStop, stalledCh)
		defer close(watchdogStop)
	}

	for _, name := range names {
		c.mu.Lock()
		disabled := c.disabled[name]
		c.mu.Unlock()
		if disabled {
			continue
		}
		n := name
		tsk, err := task.Go(c.proc, false, func(h *task.Handle) (Component, error) {
			return c.build(n, h)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		c.mu.Lock()
		c.tasks[name] = tsk
		c.mu.Unlock()
	}

	var firstErr error
	c.mu.Lock()
	tasksSnapshot := make(map[string]*task.Task[Component], len(c.tasks))
	for k, v := range c.tasks {
		tasksSnapshot[k] = v
	}
	c.mu.Unlock()

	for name, tsk := range tasksSnapshot {
		select {
		case <-tsk.Done():
		case <-stalledCh:
			// A stalled construction may never finish; stop waiting for it.
			return fmt.Errorf("%s: %w", name, ErrLoadStalled)
		}
		if _, err := tsk.GetBlocking(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return firstErr
}

func (c *Context) build(name string, h *task.Handle) (Component, error) {
	c.mu.Lock()
	st := c.states[name]
	st.status = statusLoading
	factory := st.factory
	c.mu.Unlock()

	bc := &BuildContext{cc: c, name: name, h: h}
	val, err := factory(bc)

	c.mu.Lock()
	if err != nil {
		st.status = statusFailed
		st.err = err
	} else {
		st.status = statusReady
		st.value = val
	}
	c.lastProgress = time.Now()
	close(st.ready)
	c.mu.Unlock()

	return val, err
}

func (c *Context) findComponent(target, caller string, h *task.Handle) (Component, error) {
	c.mu.Lock()
	if c.disabled[target] {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", target, ErrDisabled)
	}
	st, ok := c.states[target]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", target, ErrUnregistered)
	}

	// Record the edge for every FindComponent call, not just ones that
	// suspend: ClearAll needs the full dependency graph, and a dependency
	// already ready by the time caller asked for it is still a real
	// dependency.
	if c.depEdges[caller] == nil {
		c.depEdges[caller] = make(map[string]bool)
	}
	c.depEdges[caller][target] = true

	switch st.status {
	case statusReady:
		val := st.value
		c.mu.Unlock()
		return val, nil
	case statusFailed:
		err := st.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w: %w", target, ErrComponentConstructionFailed, err)
	}

	if c.wouldCycle(caller, target) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s -> %s: %w", caller, target, ErrDependencyCycle)
	}
	c.waitFor[caller] = target
	readyCh := st.ready
	c.mu.Unlock()

	waitErr := h.WaitChan(readyCh, time.Time{})

	c.mu.Lock()
	delete(c.waitFor, caller)
	c.mu.Unlock()

	if waitErr != nil {
		if errors.Is(waitErr, task.ErrCancelled) {
			return nil, ErrLoadCancelled
		}
		return nil, waitErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.status == statusReady {
		return st.value, nil
	}
	return nil, fmt.Errorf("%s: %w: %w", target, ErrComponentConstructionFailed, st.err)
}

// wouldCycle reports whether recording the edge caller->target would close
// a cycle, i.e. whether target's own wait-chain already leads back to
// caller. Must be called with c.mu held.
func (c *Context) wouldCycle(caller, target string) bool {
	if caller == target {
		return true
	}
	seen := make(map[string]bool)
	cur := target
	for {
		if cur == caller {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		next, ok := c.waitFor[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

// stallWatchdog cancels every outstanding construction once no component
// has reached ready/failed for StallTimeout, then closes stalledCh so Load
// stops waiting for constructions that may never finish. A stall is distinguishable
// from a cycle: wouldCycle already
// catches every cycle synchronously, so anything the watchdog catches is
// genuine lack of forward progress (e.g. every remaining builder blocked on
// a component that isn't registered at all is impossible — that fails
// immediately — but one blocked on a pathologically slow factory is not).
func (c *Context) stallWatchdog(stop, stalledCh chan struct{}) {
	ticker := time.NewTicker(c.stallTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stalled := time.Since(c.lastProgress) > c.stallTimeout && !c.cancelledLoad
			if stalled {
				c.cancelledLoad = true
				c.cancelCause = ErrLoadStalled
			}
			tasksSnapshot := make([]*task.Task[Component], 0, len(c.tasks))
			if stalled {
				for _, tsk := range c.tasks {
					tasksSnapshot = append(tasksSnapshot, tsk)
				}
			}
			c.mu.Unlock()
			if stalled {
				for _, tsk := range tasksSnapshot {
					tsk.RequestCancel()
				}
				close(stalledCh)
				return
			}
		}
	}
}

// CancelLoad requests cancellation of every component construction still in
// flight; used by Manager when it needs to abort a boot in progress.
func (c *Context) CancelLoad(cause error) {
	c.mu.Lock()
	if c.cancelledLoad {
		c.mu.Unlock()
		return
	}
	c.cancelledLoad = true
	c.cancelCause = cause
	tasksSnapshot := make([]*task.Task[Component], 0, len(c.tasks))
	for _, tsk := range c.tasks {
		tasksSnapshot = append(tasksSnapshot, tsk)
	}
	c.mu.Unlock()
	for _, tsk := range tasksSnapshot {
		tsk.RequestCancel()
	}
}

// LoadCancelCause returns the reason CancelLoad/the stall watchdog fired.
// A cancelled load with no recorded external cause is reported as
// ErrLoadStalled, not plain
// ErrLoadCancelled, so callers can tell apart "someone asked us to stop"
// from "we gave up waiting."
func (c *Context) LoadCancelCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelledLoad {
		return nil
	}
	if c.cancelCause != nil {
		return c.cancelCause
	}
	return ErrLoadStalled
}

// Get returns an already-loaded component by name without suspending,
// intended for use after Load has returned successfully (e.g. from an
// HTTP handler's outer goroutine doing a post-boot component lookup).
func (c *Context) Get(name string) (Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnregistered)
	}
	switch st.status {
	case statusReady:
		return st.value, nil
	case statusFailed:
		return nil, fmt.Errorf("%s: %w: %v", name, ErrComponentConstructionFailed, st.err)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrMissingComponent)
	}
}

// ClearAll tears down every ready component that implements ClearComponent,
// in an order derived from the dependency edges actually observed during
// construction (every FindComponent(target) call from inside caller's
// factory recorded a caller->target edge in depEdges): for every such
// edge, caller is destroyed before target, so a component is never torn
// down while something that depends on it might still be relying on it.
// Components with no recorded edges between them fall back to
// registration order, keeping teardown deterministic even though
// cfg.Components is itself a map with randomized iteration order.
func (c *Context) ClearAll() {
	order := c.teardownOrder()

	for _, name := range order {
		c.mu.Lock()
		st := c.states[name]
		var val Component
		ready := st.status == statusReady
		if ready {
			val = st.value
		}
		c.mu.Unlock()
		if !ready {
			continue
		}
		if cc, ok := val.(ClearComponent); ok {
			cc.ClearComponent()
		}
	}
}

// teardownOrder computes a topological order over the recorded
// caller->target dependency edges in which every caller precedes every
// target it ever depended on, breaking ties by registration order for
// determinism. It is a Kahn's-algorithm sort run against registration
// order instead of a FIFO queue, so that components untouched by any
// recorded edge keep their original registration position relative to
// each other.
func (c *Context) teardownOrder() []string {
	c.mu.Lock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}

	indegree := make(map[string]int, len(names))
	successors := make(map[string][]string, len(names))
	for caller, targets := range c.depEdges {
		if _, ok := pos[caller]; !ok {
			continue
		}
		for target := range targets {
			if _, ok := pos[target]; !ok {
				continue
			}
			successors[caller] = append(successors[caller], target)
			indegree[target]++
		}
	}
	c.mu.Unlock()

	for caller := range successors {
		sort.Slice(successors[caller], func(i, j int) bool {
			return pos[successors[caller][i]] < pos[successors[caller][j]]
		})
	}

	visited := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	for len(order) < len(names) {
		progressed := false
		for _, n := range names {
			if visited[n] || indegree[n] != 0 {
				continue
			}
			visited[n] = true
			order = append(order, n)
			progressed = true
			for _, successor := range successors[n] {
				indegree[successor]--
			}
		}
		if !progressed {
			// A cycle would have already aborted Load; this is just a
			// safety net so teardown still runs instead of hanging.
			for _, n := range names {
				if !visited[n] {
					visited[n] = true
					order = append(order, n)
				}
			}
			break
		}
	}
	return order
}
