//go:build linux

package futex

import (
	"sync/atomic"

	"github.com/christophcemper/pinnedsync/internal/fatal"
	"github.com/christophcemper/pinnedsync/internal/initguard"
)

// Mutex word states.
const (
	unlocked uint32 = iota
	locked
	// contended means locked with possible waiters.
	contended
)

const spinLimit = 100

// Mutex is a non-recursive mutual exclusion lock.
type Mutex struct {
	state initguard.Cell[atomic.Uint32]
}

// Init prepares the mutex for use. It panics if called twice.
func (m *Mutex) Init() {
	m.state.InitWith(func(*atomic.Uint32) {})
}

func (m *Mutex) Lock() {
	w := m.state.Get()
	if !w.CompareAndSwap(unlocked, locked) {
		lockContended(w)
	}
}

func (m *Mutex) TryLock() bool {
	return m.state.Get().CompareAndSwap(unlocked, locked)
}

func (m *Mutex) Unlock() {
	switch m.state.Get().Swap(unlocked) {
	case unlocked:
		panic(fatal.ErrUnlockUnlocked)
	case contended:
		wake(m.state.Get(), 1)
	}
}

func lockContended(w *atomic.Uint32) {
	state := spin(w)

	if state == unlocked {
		if w.CompareAndSwap(unlocked, locked) {
			return
		}
		state = w.Load()
	}

	for {
		// Taking the lock through the contended state keeps the wake-up
		// chain alive for whoever else is queued.
		if state != contended && w.Swap(contended) == unlocked {
			return
		}
		wait(w, contended, -1)
		state = spin(w)
	}
}

// spin waits a little while the lock is held without known waiters.
func spin(w *atomic.Uint32) uint32 {
	for i := 0; ; i++ {
		state := w.Load()
		if state != locked || i == spinLimit {
			return state
		}
	}
}
