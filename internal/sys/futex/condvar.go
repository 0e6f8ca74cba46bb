//go:build linux

package futex

import (
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/initguard"
)

// Condvar is a condition variable over a sequence word: every notification
// bumps the word, so a waiter that sampled it before releasing the mutex
// cannot miss a notification issued after that release.
type Condvar struct {
	seq initguard.Cell[atomic.Uint32]
}

// Init prepares the condition variable for use. It panics if called twice.
func (c *Condvar) Init() {
	c.seq.InitWith(func(*atomic.Uint32) {})
}

func (c *Condvar) NotifyOne() {
	w := c.seq.Get()
	w.Add(1)
	wake(w, 1)
}

func (c *Condvar) NotifyAll() {
	w := c.seq.Get()
	w.Add(1)
	wake(w, wakeAll)
}

// Wait releases m, blocks until notified, and re-acquires m. It may return
// spuriously.
func (c *Condvar) Wait(m *Mutex) {
	c.wait(m, -1)
}

// WaitTimeout is Wait bounded by d. It returns false if d elapsed.
func (c *Condvar) WaitTimeout(m *Mutex, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	return c.wait(m, d)
}

func (c *Condvar) wait(m *Mutex, timeout time.Duration) bool {
	w := c.seq.Get()
	seq := w.Load()

	m.Unlock()
	ok := wait(w, seq, timeout)
	m.Lock()

	return ok
}
