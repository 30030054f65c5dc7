package task

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shuva10v/userver-go/internal/taskproc"
)

// cancelState is the cancellation signal shared between a Task and its
// Handle: a flag for cheap polling at Checkpoint, and a channel so a
// suspension already blocked inside Suspend's block() (e.g. a WaitChan on
// someone else's done channel) can be interrupted rather than waiting for
// whatever it was waiting on to show up on its own.
type cancelState struct {
	flag atomic.Bool
	ch   chan struct{}
	once sync.Once
}

func newCancelState() *cancelState {
	return &cancelState{ch: make(chan struct{})}
}

func (c *cancelState) trigger() {
	c.once.Do(func() {
		c.flag.Store(true)
		close(c.ch)
	})
}

func (c *cancelState) isSet() bool { return c.flag.Load() }

// Handle is passed into a task's body function; it is the coroutine's view
// of itself, exposing every suspension point a task body can hit. Only
// the goroutine currently running a task's body ever touches a Handle, so
// its fields need no locking of their own — exactly one writer, always
// sequential with itself.
type Handle struct {
	proc      *taskproc.Processor
	critical  bool
	cancelled *cancelState
	ticket    *taskproc.Ticket
}

// Checkpoint is the one suspension point a Critical task still honors:
// critical tasks observe cancellation on explicit checkpoints only.
// Non-critical tasks observe cancellation here too, in
// addition to every other suspension primitive.
func (h *Handle) Checkpoint() error {
	if h.cancelled.isSet() {
		return ErrCancelled
	}
	return nil
}

// Suspend releases this task's worker lane, runs block (expected to itself
// block on something — a channel receive, a timer, another task's done
// channel), then re-admits the task onto its TaskProcessor's run-queue
// before returning. Every other suspension primitive in this package is
// built on Suspend.
func (h *Handle) Suspend(block func()) error {
	if !h.critical {
		if err := h.Checkpoint(); err != nil {
			return err
		}
	}
	h.release()
	block()
	return h.reacquire()
}

func (h *Handle) release() {
	if h.ticket != nil {
		h.ticket.Release()
		h.ticket = nil
	}
}

func (h *Handle) reacquire() error {
	ticket, err := h.proc.Schedule(h.critical)
	if err != nil {
		return err
	}
	<-ticket.Ready()
	h.ticket = ticket
	return nil
}

// Yield gives up the worker lane and immediately re-queues — the only
// explicit yield point; there are no implicit yields.
func (h *Handle) Yield() error {
	return h.Suspend(func() {})
}

// Sleep suspends for d, cooperatively freeing the worker lane for the
// duration. A non-critical
// task's sleep is cut short by cancellation.
func (h *Handle) Sleep(d time.Duration) error {
	return h.WaitChan(neverReady, time.Now().Add(d))
}

var neverReady = make(chan struct{})

// WaitChan suspends until done is closed, or until deadline (if non-zero)
// passes first — returning ErrDeadlineExceeded with the task still
// running (a deadline alone never auto-cancels) — or until cancellation is
// requested, for a non-Critical handle, which returns ErrCancelled.
func (h *Handle) WaitChan(done <-chan struct{}, deadline time.Time) error {
	var timedOut, cancelledDuring bool
	err := h.Suspend(func() {
		var cancelCh <-chan struct{}
		if !h.critical {
			cancelCh = h.cancelled.ch
		}
		var timerC <-chan time.Time
		if !deadline.IsZero() {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			timerC = timer.C
		}
		select {
		case <-done:
		case <-timerC:
			timedOut = true
		case <-cancelCh:
			cancelledDuring = true
		}
	})
	if err != nil {
		return err
	}
	if cancelledDuring {
		return ErrCancelled
	}
	if timedOut {
		return ErrDeadlineExceeded
	}
	return nil
}

// Critical reports whether this handle belongs to a Critical task.
func (h *Handle) Critical() bool { return h.critical }

// CancelRequested reports the raw cancellation flag without consuming a
// suspension point, for callers that need to poll without yielding the
// lane.
func (h *Handle) CancelRequested() bool { return h.cancelled.isSet() }
