package task

// Mutex is a cooperative lock a coroutine can hold across a suspension
// point without blocking its underlying OS thread: Lock suspends the
// calling task (freeing its worker lane) rather than spinning, covering the
// "mutex/condition_variable wait" suspension point.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock suspends caller until the mutex is available.
func (m *Mutex) Lock(caller *Handle) error {
	return caller.Suspend(func() { <-m.ch })
}

// Unlock releases the mutex. Unlock on an already-unlocked Mutex blocks
// forever (sync.Mutex instead fails with a fatal error).
func (m *Mutex) Unlock() {
	m.ch <- struct{}{}
}
