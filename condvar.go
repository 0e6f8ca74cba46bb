package pinnedsync

import (
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/sys"
)

// Waiter is a held mutex guard that a Condvar can wait on. It is
// implemented by *MutexGuard[T] for every T.
type Waiter interface {
	rawMutex() *sys.Mutex
	suspend()
	resume() error
}

var _ Waiter = (*MutexGuard[struct{}])(nil)

// Condvar is a condition variable. Each Condvar must always be used with
// the same mutex; waiting with a second one panics with ErrTwoMutexes.
//
// Wake-ups may be spurious, so waits are normally wrapped in a loop over the
// condition, which WaitWhile and WaitTimeoutWhile do. Notifications are not
// remembered: a notify with no goroutine waiting has no effect.
type Condvar struct {
	_     noCopy
	inner sys.Condvar
	mutex atomic.Pointer[sys.Mutex]
}

// UninitCondvar returns a condition variable that must be initialized with
// Init before use.
func UninitCondvar() Condvar {
	return Condvar{}
}

// NewCondvar allocates and initializes a condition variable.
func NewCondvar() *Condvar {
	c := &Condvar{}
	c.Init()
	return c
}

// Init initializes the condition variable in place.
func (c *Condvar) Init() {
	c.inner.Init()
}

// NotifyOne wakes one waiting goroutine, if any.
func (c *Condvar) NotifyOne() {
	c.inner.NotifyOne()
}

// NotifyAll wakes every waiting goroutine.
func (c *Condvar) NotifyAll() {
	c.inner.NotifyAll()
}

// Wait atomically releases the mutex held by g and blocks until notified,
// then re-acquires the mutex before returning. g stays valid and held.
// The error is the mutex's poison error when it is poisoned on wake-up.
func (c *Condvar) Wait(g Waiter) error {
	m := c.verify(g)

	g.suspend()
	c.inner.Wait(m)

	return g.resume()
}

// WaitWhile waits until cond returns false. cond is called with the mutex
// held, before the first wait and after every wake-up.
func (c *Condvar) WaitWhile(g Waiter, cond func() bool) error {
	for cond() {
		err := c.Wait(g)
		if err != nil {
			return err
		}
	}

	return nil
}

// WaitTimeout is Wait bounded by d. timedOut reports that d elapsed, which
// can race with a notification that arrived at the same time.
func (c *Condvar) WaitTimeout(g Waiter, d time.Duration) (timedOut bool, err error) {
	m := c.verify(g)

	g.suspend()
	woken := c.inner.WaitTimeout(m, d)

	return !woken, g.resume()
}

// WaitTimeoutWhile waits until cond returns false or d elapses. It returns
// false as soon as cond is false, even with a zero d, and true only when d
// elapsed with cond still true.
func (c *Condvar) WaitTimeoutWhile(g Waiter, d time.Duration, cond func() bool) (timedOut bool, err error) {
	start := time.Now()

	for {
		if !cond() {
			return false, nil
		}

		elapsed := time.Since(start)
		if elapsed >= d {
			return true, nil
		}

		timedOut, err = c.WaitTimeout(g, d-elapsed)
		if err != nil {
			return timedOut, err
		}
	}
}

// verify binds the condition variable to the mutex of its first wait.
func (c *Condvar) verify(g Waiter) *sys.Mutex {
	m := g.rawMutex()

	if !c.mutex.CompareAndSwap(nil, m) && c.mutex.Load() != m {
		panic(ErrTwoMutexes)
	}

	return m
}
