package core

import "context"

// Mutex is a single-slot FIFO lock for serializing async critical sections
// that span blocking calls — something sync.Mutex cannot do safely, since a
// goroutine other than the locker is allowed to call Unlock here (there is
// no "owner" requirement, matching the single-threaded cooperative execution
// model of spec.md §5, where the lock guards a logical turn rather than a
// single goroutine's stack). Implemented as a buffered channel of capacity
// one, following the same "channel as semaphore" idiom the teacher uses for
// its connection bookkeeping in pkg/core/socket.go (see DESIGN.md).
type Mutex struct {
	slot chan struct{}
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{slot: make(chan struct{}, 1)}
	m.slot <- struct{}{}
	return m
}

// Lock acquires the mutex, blocking until it is available or ctx is done.
// Callers may hold the lock across further blocking calls (e.g. a store
// round-trip) without risk of deadlocking other Lock callers, since waiters
// simply queue on the channel in FIFO order.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case <-m.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	select {
	case <-m.slot:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an already-unlocked Mutex panics, the
// same contract sync.Mutex makes.
func (m *Mutex) Unlock() {
	select {
	case m.slot <- struct{}{}:
	default:
		panic("core: Unlock of unlocked Mutex")
	}
}
