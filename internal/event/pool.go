// Package event implements a small I/O-reactor thread pool: a fixed set
// of threads that translate
// driver-signalled readiness into task wake-ups, without knowing anything
// about TaskProcessor or Task themselves — drivers close the loop by handing
// the pool a zero-argument callback that reschedules their waiting task.
//
// Grounded on momentics-hioload-ws's core/concurrency/eventloop.go: the
// non-blocking batched drain with exponential backoff on an idle inbox is
// reproduced here per-thread, generalized from a fixed Event type to an
// opaque wake callback since the core has no concept of a wire-level event.
package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// Config describes the event_thread_pool section.
type Config struct {
	Threads    int
	ThreadName string
}

// Wakeup is what a driver pushes into the pool once its readiness condition
// fires; invoking it is expected to be cheap (typically: reschedule one
// TaskContext on its owning TaskProcessor).
type Wakeup func()

// Pool runs Config.Threads reactor goroutines, each draining its own inbox
// of pending Wakeups. Drivers pick a thread via Push and do not get to
// choose which one — the pool makes no ordering guarantee across reactor
// threads.
type Pool struct {
	cfg      Config
	inboxes  []chan Wakeup
	quit     chan struct{}
	wg       sync.WaitGroup
	rr       atomic.Uint64
	started  atomic.Bool
	pending  atomic.Int64
}

const inboxCapacity = 4096

// New creates and starts the reactor threads immediately; there is no
// separate Start, matching the pattern of pools being ready the instant
// TaskProcessorPools is constructed in Manager's boot sequence.
func New(cfg Config) *Pool {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	p := &Pool{cfg: cfg, quit: make(chan struct{})}
	p.inboxes = make([]chan Wakeup, cfg.Threads)
	for i := range p.inboxes {
		p.inboxes[i] = make(chan Wakeup, inboxCapacity)
	}
	p.started.Store(true)
	for i := 0; i < cfg.Threads; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

// Push hands a Wakeup to one of the reactor threads, round-robin. Returns
// false if the pool is stopped or the chosen inbox is saturated.
func (p *Pool) Push(w Wakeup) bool {
	if !p.started.Load() {
		return false
	}
	idx := int(p.rr.Add(1)) % len(p.inboxes)
	select {
	case p.inboxes[idx] <- w:
		p.pending.Add(1)
		return true
	case <-p.quit:
		return false
	default:
		return false
	}
}

func (p *Pool) run(idx int) {
	defer p.wg.Done()
	inbox := p.inboxes[idx]
	backoff := time.Microsecond
	const maxBackoff = time.Millisecond
	timer := time.NewTimer(backoff)
	timer.Stop()
	for {
		select {
		case w := <-inbox:
			p.pending.Add(-1)
			p.safeInvoke(w)
			backoff = time.Microsecond
			continue
		case <-p.quit:
			return
		default:
		}

		timer.Reset(backoff)
		select {
		case w := <-inbox:
			timer.Stop()
			p.pending.Add(-1)
			p.safeInvoke(w)
			backoff = time.Microsecond
		case <-timer.C:
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-p.quit:
			timer.Stop()
			return
		}
	}
}

func (p *Pool) safeInvoke(w Wakeup) {
	defer func() { recover() }()
	w()
}

// Pending returns the approximate count of wakeups not yet delivered.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Stop does not drain: in-flight wakeups are abandoned (a driver that needed its
// wakeup delivered should have called it synchronously before shutdown);
// Stop only guarantees the reactor goroutines have exited once it returns.
func (p *Pool) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.quit)
	p.wg.Wait()
}
