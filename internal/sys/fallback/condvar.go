package fallback

import (
	"sync"
	"time"

	"github.com/christophcemper/pinnedsync/internal/initguard"
)

// waitQueue is a FIFO of parked waiters. Each waiter owns a channel that
// a notifier closes exactly once.
type waitQueue struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Condvar is a condition variable with timed waits, which sync.Cond does
// not offer.
type Condvar struct {
	q initguard.Cell[waitQueue]
}

// Init prepares the condition variable for use. It panics if called twice.
func (c *Condvar) Init() {
	c.q.InitWith(func(*waitQueue) {})
}

func (c *Condvar) NotifyOne() {
	q := c.q.Get()
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		close(q.waiters[0])
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
	}
}

func (c *Condvar) NotifyAll() {
	q := c.q.Get()
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

// Wait releases m, blocks until notified, and re-acquires m.
func (c *Condvar) Wait(m *Mutex) {
	ch := c.enqueue()

	m.Unlock()
	<-ch
	m.Lock()
}

// WaitTimeout is Wait bounded by d. It returns false if d elapsed without
// a notification.
func (c *Condvar) WaitTimeout(m *Mutex, d time.Duration) bool {
	ch := c.enqueue()

	m.Unlock()
	timer := time.NewTimer(d)
	notified := true
	select {
	case <-ch:
	case <-timer.C:
		// A notifier that dequeued us first still counts.
		notified = !c.remove(ch)
	}
	timer.Stop()
	m.Lock()

	return notified
}

// enqueue registers a waiter. It runs before the caller releases its mutex,
// so a notification sent after that release finds the waiter queued.
func (c *Condvar) enqueue() chan struct{} {
	q := c.q.Get()
	ch := make(chan struct{})

	q.mu.Lock()
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	return ch
}

// remove dequeues ch and reports whether it was still queued.
func (c *Condvar) remove(ch chan struct{}) bool {
	q := c.q.Get()
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
