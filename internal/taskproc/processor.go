// Package taskproc implements the Task Processor: a named pool of OS threads (here, goroutines — see DESIGN.md for why
// that substitution preserves the same concurrency model) executing a
// multi-producer, multi-consumer FIFO run-queue of ready coroutine tasks.
//
// Grounded on momentics-hioload-ws's core/concurrency/executor.go for the
// worker-loop/global-queue/graceful-shutdown shape, generalized from its
// lock-free per-worker queues (this processor needs one strictly FIFO queue,
// not work-stealing local queues — ties break FIFO, no priority —) and reinforced with github.com/eapache/queue as the underlying
// ring buffer, the same dependency momentics-hioload-ws pulls in for its own
// queueing needs.
//
// A worker "running" a task does not mean running its whole body inline:
// the real userver multiplexes stackful coroutines onto few OS threads by
// switching stacks at a suspension point, freeing the thread for other
// ready tasks. Go's own goroutines already give every task a free stack to
// suspend on, so a worker's job here is admission control, not execution:
// it hands a Ticket to the next queued task and waits only until that task
// either finishes its run or voluntarily suspends (Ticket.Release), at
// which point the worker is free to admit the next one. internal/task
// builds suspension primitives on top of Ticket.Release/re-Schedule.
package taskproc

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/shuva10v/userver-go/internal/coro"
)

// ErrOverloaded is returned by Schedule when the run-queue's high-water mark
// is exceeded by a non-critical submission.
var ErrOverloaded = errors.New("taskproc: queue overloaded")

// ErrShuttingDown is returned by Schedule once InitiateShutdown has run.
var ErrShuttingDown = errors.New("taskproc: processor is shutting down")

// Config mirrors TaskProcessorConfig.
type Config struct {
	Name                string
	WorkerThreads       int
	ThreadName          string
	TaskTraceEnabled    bool
	TaskTraceMaxTasks   int
	ShouldGuessCPULimit bool
	QueueHighWaterMark  int // 0 means DefaultHighWaterMark

	// CoroPool, if set, is acquired for the duration a worker lane is
	// actually admitting a task's run (a shared
	// process-wide coroutine-stack pool, not a per-processor one). Nil
	// disables the bookkeeping, which is all every test but the
	// manager's boot/shutdown tests need.
	CoroPool *coro.Pool
}

const DefaultHighWaterMark = 1 << 16

// Stats mirrors GetStats.
type Stats struct {
	QueueLength    int
	Running        int
	TotalCreated   uint64
	TotalCancelled uint64
	TotalOverrun   uint64
}

// Ticket is a one-shot admission grant. The holder waits on Ready, runs
// until it wants to give up its lane, then calls Release exactly once.
type Ticket struct {
	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Ready is closed by the processor once a worker lane is free for this
// ticket's holder.
func (t *Ticket) Ready() <-chan struct{} { return t.ready }

// Release frees the worker lane this ticket was granted. Safe to call more
// than once; only the first call has effect.
func (t *Ticket) Release() {
	t.once.Do(func() { close(t.done) })
}

type queued struct {
	ticket   *Ticket
	critical bool
}

// Processor is a TaskProcessor: a named worker pool draining one FIFO
// run-queue. It never migrates tasks to another Processor; a cross-processor
// hand-off is always an explicit external re-Schedule.
type Processor struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	q        *queue.Queue
	draining bool

	running        int
	totalCreated   uint64
	totalCancelled uint64
	totalOverrun   uint64

	wg sync.WaitGroup
}

// New constructs a Processor and starts its worker goroutines immediately;
// there is no separate Start because a TaskProcessor has no steady-state
// "not yet running" phase.
func New(cfg Config) *Processor {
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 1
	}
	if cfg.QueueHighWaterMark <= 0 {
		cfg.QueueHighWaterMark = DefaultHighWaterMark
	}
	p := &Processor{cfg: cfg, q: queue.New()}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < cfg.WorkerThreads; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Name returns the processor's configured name.
func (p *Processor) Name() string { return p.cfg.Name }

// Schedule enqueues a ready task and returns a Ticket that becomes Ready
// once a worker lane admits it. Non-critical submissions fail with
// ErrOverloaded once the queue length has reached QueueHighWaterMark; critical
// submissions bypass that check but remain FIFO.
func (p *Processor) Schedule(critical bool) (*Ticket, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if !critical && p.q.Length() >= p.cfg.QueueHighWaterMark {
		p.totalOverrun++
		p.mu.Unlock()
		return nil, ErrOverloaded
	}
	p.totalCreated++
	t := &Ticket{ready: make(chan struct{}), done: make(chan struct{})}
	p.q.Add(queued{ticket: t, critical: critical})
	p.cond.Signal()
	p.mu.Unlock()
	return t, nil
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.q.Length() == 0 {
			if p.draining {
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
		}
		qi := p.q.Remove().(queued)
		p.running++
		p.mu.Unlock()

		var stack coro.Stack
		haveStack := false
		if p.cfg.CoroPool != nil {
			for {
				s, ok := p.cfg.CoroPool.Get()
				if ok {
					stack, haveStack = s, true
					break
				}
				time.Sleep(time.Millisecond)
			}
		}

		close(qi.ticket.ready)
		<-qi.ticket.done

		if haveStack {
			p.cfg.CoroPool.Put(stack)
		}

		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

// InitiateShutdown marks the processor as draining: no new external
// submissions succeed, but in-flight/queued tasks continue to run to
// completion or to their next suspension point. Idempotent.
func (p *Processor) InitiateShutdown() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until every worker goroutine has exited (the queue has
// drained and InitiateShutdown was called).
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Stats returns a point-in-time snapshot.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueueLength:    p.q.Length(),
		Running:        p.running,
		TotalCreated:   p.totalCreated,
		TotalCancelled: p.totalCancelled,
		TotalOverrun:   p.totalOverrun,
	}
}

// NoteCancelled lets the task package report a cancellation for stats
// purposes without taskproc needing to know about Task[T].
func (p *Processor) NoteCancelled() {
	p.mu.Lock()
	p.totalCancelled++
	p.mu.Unlock()
}
