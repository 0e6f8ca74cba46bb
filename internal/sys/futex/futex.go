//go:build linux

// Package futex implements the native backend: locks and condition
// variables that live in a single 32-bit word each, blocking through the
// Linux futex(2) system call. The words are embedded by value, so the
// objects must not move once initialized; every type wraps its word in an
// initguard.Cell to enforce that.
//
// A goroutine blocked in futex(2) pins its OS thread. Only maxSleepers
// goroutines sleep in the kernel at once; the others park on channels in a
// table keyed by word address, where the scheduler can see them.
package futex

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// From <linux/futex.h>.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128

	futexWaitPrivate = futexWait | futexPrivateFlag
	futexWakePrivate = futexWake | futexPrivateFlag
)

const wakeAll = 1<<31 - 1

// maxSleepers bounds the goroutines blocked inside futex(2).
const maxSleepers = 64

var (
	sleepers atomic.Int32
	parked   atomic.Int32
)

// wait blocks while *w == val. A negative timeout waits forever; other
// timeouts are relative and measured on CLOCK_MONOTONIC. It returns false
// only when the timeout expired. Like every futex wait it may return
// spuriously.
func wait(w *atomic.Uint32, val uint32, timeout time.Duration) bool {
	if sleepers.Add(1) <= maxSleepers {
		defer sleepers.Add(-1)
		return sleep(w, val, timeout)
	}
	sleepers.Add(-1)

	return park(w, val, timeout)
}

// wake wakes at most n goroutines blocked in wait on w, from the kernel
// and from the parking table each. Waking more than n is a spurious
// wake-up, which every caller tolerates.
func wake(w *atomic.Uint32, n int) {
	// The counters are raised before the word is compared, so a waiter
	// that is not counted yet will see the caller's new word value.
	if sleepers.Load() > 0 {
		unix.Syscall6(unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(w)), futexWakePrivate, uintptr(n),
			0, 0, 0)
	}
	if parked.Load() > 0 {
		unpark(w, n)
	}
}

func sleep(w *atomic.Uint32, val uint32, timeout time.Duration) bool {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(w)), futexWaitPrivate, uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	return errno != unix.ETIMEDOUT
}

type parker struct {
	ch chan struct{}
}

// bucket holds the parked goroutines of the words hashed to it, in
// arrival order per word.
type bucket struct {
	mu    sync.Mutex
	queue map[*atomic.Uint32][]*parker
}

var table [64]bucket

func bucketOf(w *atomic.Uint32) *bucket {
	return &table[(uintptr(unsafe.Pointer(w))>>2)%uintptr(len(table))]
}

func park(w *atomic.Uint32, val uint32, timeout time.Duration) bool {
	parked.Add(1)
	defer parked.Add(-1)

	b := bucketOf(w)

	b.mu.Lock()
	if w.Load() != val {
		b.mu.Unlock()
		return true
	}
	if b.queue == nil {
		b.queue = make(map[*atomic.Uint32][]*parker)
	}
	p := &parker{ch: make(chan struct{})}
	b.queue[w] = append(b.queue[w], p)
	b.mu.Unlock()

	if timeout < 0 {
		<-p.ch
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-p.ch:
		return true
	case <-t.C:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A wake-up that raced with the timer counts as a wake-up.
	return !b.remove(w, p)
}

func (b *bucket) remove(w *atomic.Uint32, p *parker) bool {
	q := b.queue[w]
	for i, other := range q {
		if other != p {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(b.queue, w)
		} else {
			b.queue[w] = q
		}
		return true
	}
	return false
}

func unpark(w *atomic.Uint32, n int) {
	b := bucketOf(w)

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue[w]
	for n > 0 && len(q) > 0 {
		close(q[0].ch)
		q[0] = nil
		q = q[1:]
		n--
	}

	if len(q) == 0 {
		delete(b.queue, w)
	} else {
		b.queue[w] = q
	}
}
