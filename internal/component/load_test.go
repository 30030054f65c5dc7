package component

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shuva10v/userver-go/internal/taskproc"
)

func newTestContext(t *testing.T, workers int, stall time.Duration) *Context {
	t.Helper()
	proc := taskproc.New(taskproc.Config{Name: "test", WorkerThreads: workers})
	t.Cleanup(func() {
		proc.InitiateShutdown()
		proc.Wait()
	})
	return New(proc, Config{StallTimeout: stall})
}

func TestTrivialBoot(t *testing.T) {
	c := newTestContext(t, 2, 0)
	if err := c.AddComponent("a", func(bc *BuildContext) (Component, error) {
		return "a-value", nil
	}); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := c.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "a-value" {
		t.Fatalf("got %v", v)
	}
}

func TestLinearChain(t *testing.T) {
	c := newTestContext(t, 4, 0)
	// c depends on b depends on a, but none declare it up front — each
	// discovers its dependency by calling FindComponent at construction time.
	c.AddComponent("a", func(bc *BuildContext) (Component, error) { return 1, nil })
	c.AddComponent("b", func(bc *BuildContext) (Component, error) {
		v, err := bc.FindComponent("a")
		if err != nil {
			return nil, err
		}
		return v.(int) + 1, nil
	})
	c.AddComponent("c", func(bc *BuildContext) (Component, error) {
		v, err := bc.FindComponent("b")
		if err != nil {
			return nil, err
		}
		return v.(int) + 1, nil
	})

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, _ := c.Get("c")
	if v != 3 {
		t.Fatalf("got %v, want 3", v)
	}
}

func TestDiamondDependency(t *testing.T) {
	c := newTestContext(t, 4, 0)
	var aBuilds int
	c.AddComponent("a", func(bc *BuildContext) (Component, error) {
		aBuilds++
		return 10, nil
	})
	c.AddComponent("b", func(bc *BuildContext) (Component, error) {
		v, err := bc.FindComponent("a")
		if err != nil {
			return nil, err
		}
		return v.(int) + 1, nil
	})
	c.AddComponent("d", func(bc *BuildContext) (Component, error) {
		v, err := bc.FindComponent("a")
		if err != nil {
			return nil, err
		}
		return v.(int) + 2, nil
	})
	c.AddComponent("top", func(bc *BuildContext) (Component, error) {
		b, err := bc.FindComponent("b")
		if err != nil {
			return nil, err
		}
		d, err := bc.FindComponent("d")
		if err != nil {
			return nil, err
		}
		return b.(int) + d.(int), nil
	})

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, _ := c.Get("top")
	if v != 23 {
		t.Fatalf("got %v, want 23", v)
	}
	if aBuilds != 1 {
		t.Fatalf("a built %d times, want exactly 1", aBuilds)
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	c := newTestContext(t, 4, 2*time.Second)
	c.AddComponent("a", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("b")
	})
	c.AddComponent("b", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("a")
	})

	err := c.Load()
	if err == nil {
		t.Fatal("Load succeeded, want cycle error")
	}
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Load err = %v, want ErrDependencyCycle", err)
	}
}

func TestDisabledDependencyFailsFast(t *testing.T) {
	c := newTestContext(t, 4, 0)
	c.AddComponent("db", func(bc *BuildContext) (Component, error) { return "db", nil })
	c.Disable("db")
	c.AddComponent("repo", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("db")
	})

	err := c.Load()
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Load err = %v, want ErrDisabled", err)
	}
}

func TestMissingDependency(t *testing.T) {
	c := newTestContext(t, 2, 0)
	c.AddComponent("repo", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("does-not-exist")
	})
	err := c.Load()
	if !errors.Is(err, ErrUnregistered) {
		t.Fatalf("Load err = %v, want ErrUnregistered", err)
	}
}

func TestDuplicateComponentRejected(t *testing.T) {
	c := newTestContext(t, 1, 0)
	if err := c.AddComponent("a", func(bc *BuildContext) (Component, error) { return 1, nil }); err != nil {
		t.Fatalf("first AddComponent: %v", err)
	}
	err := c.AddComponent("a", func(bc *BuildContext) (Component, error) { return 2, nil })
	if !errors.Is(err, ErrDuplicateComponent) {
		t.Fatalf("second AddComponent = %v, want ErrDuplicateComponent", err)
	}
}

func TestStallDetectedWhenNoForwardProgress(t *testing.T) {
	c := newTestContext(t, 4, 100*time.Millisecond)
	hang := make(chan struct{}) // deliberately never closed
	c.AddComponent("a", func(bc *BuildContext) (Component, error) {
		// Hangs on something that is not a FindComponent wait, so no cycle
		// edge is ever recorded; only the watchdog's lack-of-progress timer
		// can end this load.
		<-hang
		return 1, nil
	})
	c.AddComponent("b", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("a")
	})

	err := c.Load()
	close(hang) // let a's goroutine finish so Processor.Wait doesn't hang at cleanup
	if err == nil {
		t.Fatal("Load succeeded, want an error")
	}
	if cause := c.LoadCancelCause(); !errors.Is(cause, ErrLoadStalled) {
		t.Fatalf("LoadCancelCause = %v, want ErrLoadStalled", cause)
	}
}

func TestCancelLoadAbortsWaitingComponents(t *testing.T) {
	c := newTestContext(t, 4, 0)
	gate := make(chan struct{})
	c.AddComponent("slow", func(bc *BuildContext) (Component, error) {
		<-gate
		return 1, nil
	})
	c.AddComponent("dependent", func(bc *BuildContext) (Component, error) {
		return bc.FindComponent("slow")
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.CancelLoad(ErrLoadCancelled)
		close(gate)
	}()

	err := c.Load()
	if err == nil {
		t.Fatal("Load succeeded, want cancellation error")
	}
	if cause := c.LoadCancelCause(); !errors.Is(cause, ErrLoadCancelled) {
		t.Fatalf("LoadCancelCause = %v, want ErrLoadCancelled", cause)
	}
}

// clearRecorder implements ClearComponent and appends its own name to a
// shared, mutex-guarded log when torn down, so a test can assert on the
// relative order components were destroyed in.
type clearRecorder struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (r *clearRecorder) ClearComponent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.log = append(*r.log, r.name)
}

func indexOf(log []string, name string) int {
	for i, n := range log {
		if n == name {
			return i
		}
	}
	return -1
}

// TestClearAllRespectsObservedDependencyOrder registers components in an
// order deliberately unrelated to their dependency graph (the diamond:
// top depends on b and d, both of which depend on a) and asserts ClearAll
// destroys every dependent strictly before the thing it depended on,
// regardless of registration order.
func TestClearAllRespectsObservedDependencyOrder(t *testing.T) {
	c := newTestContext(t, 4, 0)
	var mu sync.Mutex
	var log []string

	c.AddComponent("top", func(bc *BuildContext) (Component, error) {
		if _, err := bc.FindComponent("b"); err != nil {
			return nil, err
		}
		if _, err := bc.FindComponent("d"); err != nil {
			return nil, err
		}
		return &clearRecorder{name: "top", mu: &mu, log: &log}, nil
	})
	c.AddComponent("a", func(bc *BuildContext) (Component, error) {
		return &clearRecorder{name: "a", mu: &mu, log: &log}, nil
	})
	c.AddComponent("d", func(bc *BuildContext) (Component, error) {
		if _, err := bc.FindComponent("a"); err != nil {
			return nil, err
		}
		return &clearRecorder{name: "d", mu: &mu, log: &log}, nil
	})
	c.AddComponent("b", func(bc *BuildContext) (Component, error) {
		if _, err := bc.FindComponent("a"); err != nil {
			return nil, err
		}
		return &clearRecorder{name: "b", mu: &mu, log: &log}, nil
	})

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.ClearAll()

	if len(log) != 4 {
		t.Fatalf("teardown log = %v, want 4 entries", log)
	}
	topIdx, aIdx, bIdx, dIdx := indexOf(log, "top"), indexOf(log, "a"), indexOf(log, "b"), indexOf(log, "d")
	if topIdx > bIdx || topIdx > dIdx {
		t.Fatalf("top torn down at %d, want before b (%d) and d (%d): log=%v", topIdx, bIdx, dIdx, log)
	}
	if bIdx > aIdx || dIdx > aIdx {
		t.Fatalf("a torn down before one of its dependents: log=%v", log)
	}
}
