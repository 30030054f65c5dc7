// Package manager implements boot and shutdown sequencing: build the
// shared coroutine-stack/event-reactor pools, build every configured
// TaskProcessor, construct the dependency graph of components on the
// default processor, and tear all of it down again in the matching reverse
// order.
//
// Grounded on userver's Manager constructor/destructor and
// TaskProcessorsStorage::Reset, with a Hook/Manager lifecycle
// (internal/hooks) layered on top for
// BeforeStart/AfterStart/OnAllComponentsLoaded/BeforeShutdown/AfterShutdown.
package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/coro"
	"github.com/shuva10v/userver-go/internal/event"
	"github.com/shuva10v/userver-go/internal/hooks"
	"github.com/shuva10v/userver-go/internal/taskproc"
)

// RegisterFunc adds every component factory the caller wants booted; it is
// the Go-idiomatic stand-in for the original's ComponentList, generalized
// from a static list to a closure so registration can itself construct
// closures capturing outer config.
type RegisterFunc func(ctx *component.Context) error

// Manager owns the process-wide pools, the named TaskProcessors, and the
// ComponentContext built on top of them, for exactly one boot/shutdown
// cycle.
type Manager struct {
	cfg *config.ManagerConfig

	coroPool  *coro.Pool
	eventPool *event.Pool

	processors       map[string]*taskproc.Processor
	defaultProcessor *taskproc.Processor

	ctx   *component.Context
	hooks *hooks.Manager

	startTime    time.Time
	loadDuration time.Duration

	mu      sync.Mutex
	cleared bool
}

// New runs the full boot sequence: pools, processors, then the component
// dependency graph via register. On any failure it tears down whatever it
// already started before returning the error, so a failed New leaves
// nothing running.
func New(cfg *config.ManagerConfig, register RegisterFunc, hm *hooks.Manager) (*Manager, error) {
	if hm == nil {
		hm = hooks.NewManager()
	}
	log.Printf("manager: starting components manager")

	m := &Manager{
		cfg:        cfg,
		processors: make(map[string]*taskproc.Processor),
		hooks:      hm,
		startTime:  time.Now(),
	}

	m.coroPool = coro.New(coro.Config{
		InitialSize: cfg.CoroPool.InitialSize,
		MaxSize:     cfg.CoroPool.MaxSize,
		StackSize:   cfg.CoroPool.StackSize,
	})
	m.eventPool = event.New(event.Config{Threads: cfg.EventThreadPool.Threads})

	for _, pc := range cfg.TaskProcessors {
		workerThreads := pc.WorkerThreads
		if pc.ShouldGuessCPULimit {
			if pc.Name == cfg.DefaultTaskProcessor {
				if guessed, ok := guessCPULimit(pc.Name); ok {
					workerThreads = guessed
				}
			} else {
				log.Printf("manager: should_guess_cpu_limit is set for non-default task processor (%s), ignoring it", pc.Name)
			}
		}
		m.processors[pc.Name] = taskproc.New(taskproc.Config{
			Name:                pc.Name,
			WorkerThreads:       workerThreads,
			ThreadName:          pc.ThreadName,
			TaskTraceEnabled:    pc.TaskTraceEnabled,
			TaskTraceMaxTasks:   pc.TaskTraceMaxTasks,
			ShouldGuessCPULimit: pc.ShouldGuessCPULimit,
			QueueHighWaterMark:  pc.QueueHighWaterMark,
			CoroPool:            m.coroPool,
		})
	}

	defaultProc, ok := m.processors[cfg.DefaultTaskProcessor]
	if !ok {
		m.teardownProcessors()
		m.teardownPools()
		return nil, ErrMissingDefaultProcessor
	}
	m.defaultProcessor = defaultProc

	m.ctx = component.New(defaultProc, component.Config{StallTimeout: 30 * time.Second})
	if register != nil {
		if err := register(m.ctx); err != nil {
			m.teardownProcessors()
			m.teardownPools()
			return nil, fmt.Errorf("manager: registering components: %w", err)
		}
	}

	hookCtx := context.Background()
	if err := hm.Execute(hookCtx, hooks.BeforeStart); err != nil {
		m.teardownProcessors()
		m.teardownPools()
		return nil, err
	}

	loadStart := time.Now()
	loadErr := m.ctx.Load()
	m.loadDuration = time.Since(loadStart)
	if loadErr != nil {
		m.ctx.ClearAll()
		m.teardownProcessors()
		m.teardownPools()
		return nil, fmt.Errorf("manager: loading components: %w", loadErr)
	}

	if err := hm.Execute(hookCtx, hooks.OnAllComponentsLoaded); err != nil {
		m.ctx.ClearAll()
		m.teardownProcessors()
		m.teardownPools()
		return nil, err
	}
	if err := hm.Execute(hookCtx, hooks.AfterStart); err != nil {
		m.ctx.ClearAll()
		m.teardownProcessors()
		m.teardownPools()
		return nil, err
	}

	log.Printf("manager: started components manager (load took %s)", m.loadDuration)
	return m, nil
}

// Config returns the manager configuration it was booted with.
func (m *Manager) Config() *config.ManagerConfig { return m.cfg }

// Components returns the resolved dependency graph, for looking up
// components by name after boot.
func (m *Manager) Components() *component.Context { return m.ctx }

// TaskProcessor returns the named TaskProcessor, or nil if no such name was
// configured.
func (m *Manager) TaskProcessor(name string) *taskproc.Processor {
	return m.processors[name]
}

// DefaultTaskProcessor returns the TaskProcessor named by
// default_task_processor.
func (m *Manager) DefaultTaskProcessor() *taskproc.Processor {
	return m.defaultProcessor
}

// StartTime returns when New began booting.
func (m *Manager) StartTime() time.Time { return m.startTime }

// LoadDuration returns how long component construction took.
func (m *Manager) LoadDuration() time.Duration { return m.loadDuration }

// OnLogRotate forwards a log-rotation signal to every registered
// OnLogRotate hook, unless Shutdown has already cleared components
// (userver's Manager::OnLogRotate checks components_cleared_ under
// the same lock it uses for that flag; here that's just m.mu).
func (m *Manager) OnLogRotate(ctx context.Context) error {
	m.mu.Lock()
	cleared := m.cleared
	m.mu.Unlock()
	if cleared {
		return nil
	}
	return m.hooks.Execute(ctx, hooks.OnLogRotate)
}

// Shutdown runs the symmetric teardown: hooks, then
// component teardown, then each TaskProcessor's InitiateShutdown, then a
// busy-wait for the shared coroutine pool to go idle, then the pools
// themselves. Idempotent; a second call returns ErrAlreadyCleared.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.cleared {
		m.mu.Unlock()
		return ErrAlreadyCleared
	}
	m.cleared = true
	m.mu.Unlock()

	log.Printf("manager: stopping components manager")
	if err := m.hooks.Execute(ctx, hooks.BeforeShutdown); err != nil {
		log.Printf("manager: before_shutdown hook failed: %v", err)
	}

	m.ctx.ClearAll()

	m.teardownProcessors()
	m.teardownPools()

	if err := m.hooks.Execute(ctx, hooks.AfterShutdown); err != nil {
		log.Printf("manager: after_shutdown hook failed: %v", err)
	}
	log.Printf("manager: stopped components manager")
	return nil
}

func (m *Manager) teardownProcessors() {
	log.Printf("manager: initiating task processors shutdown")
	for _, p := range m.processors {
		p.InitiateShutdown()
	}
	log.Printf("manager: waiting for all coroutines to become idle")
	for m.coroPool != nil && m.coroPool.ActiveCoroutines() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	for _, p := range m.processors {
		p.Wait()
	}
	m.processors = make(map[string]*taskproc.Processor)
	log.Printf("manager: stopped task processors")
}

func (m *Manager) teardownPools() {
	if m.eventPool != nil {
		m.eventPool.Stop()
	}
	log.Printf("manager: stopped task processor pools")
}
