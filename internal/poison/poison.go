// Package poison tracks whether data guarded by a lock may be inconsistent
// because a holder panicked while holding it.
package poison

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/goid"
)

// Flag is the shared poison bit of one lock. The zero value is clear.
//
// Accesses are plain atomics: the flag protects no data of its own, and the
// lock it belongs to orders its writes before later acquisitions.
type Flag struct {
	failed atomic.Bool
}

// Token records, for one acquisition, whether the acquiring goroutine was
// already unwinding from a panic, and which one.
type Token struct {
	panicking bool
	inflight  interface{}
}

// Borrow starts an acquisition. The returned bool reports whether the flag
// was already set; the token is valid either way.
func (f *Flag) Borrow() (Token, bool) {
	r, ok := inFlight()
	return Token{panicking: ok, inflight: r}, f.Get()
}

// Done ends the acquisition of tok. r is the panic propagating through the
// release, or nil. The flag is set unless r is the panic the goroutine was
// already unwinding from when it acquired tok. Done reports whether r
// poisoned the flag.
func (f *Flag) Done(tok Token, r interface{}) bool {
	if r == nil {
		return false
	}
	if tok.panicking && same(tok.inflight, r) {
		return false
	}
	f.failed.Store(true)
	return true
}

// Get reports whether the flag is set.
func (f *Flag) Get() bool {
	return f.failed.Load()
}

// Panicking reports whether tok was taken during an unwind.
func (tok Token) Panicking() bool {
	return tok.panicking
}

// same compares two panic values. Values of an uncomparable type are never
// the same.
func same(a, b interface{}) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// pruneEvery bounds how often acquisitions that find marks of other
// goroutines scan the process for stale ones.
const pruneEvery = 100 * time.Millisecond

type mark struct {
	value interface{}
	at    int64
}

var unwinding struct {
	count  atomic.Int64
	marks  sync.Map // goroutine id -> *mark
	pruned atomic.Int64
}

// MarkUnwinding records that the calling goroutine is propagating panic r
// out of a guard release. Acquisitions it makes while r unwinds are not
// blamed for r.
func MarkUnwinding(r interface{}) {
	m := &mark{value: r, at: time.Now().UnixNano()}
	if _, loaded := unwinding.marks.Swap(goid.Get(), m); !loaded {
		unwinding.count.Add(1)
	}
}

// Unwinding reports whether the calling goroutine is propagating a marked
// panic.
func Unwinding() bool {
	_, ok := inFlight()
	return ok
}

// inFlight returns the marked panic of the calling goroutine. A mark whose
// panic has since been recovered is dropped.
func inFlight() (interface{}, bool) {
	// Fast path: nobody is unwinding.
	if unwinding.count.Load() == 0 {
		return nil, false
	}
	id := goid.Get()

	v, ok := unwinding.marks.Load(id)
	if !ok {
		maybePrune()
		return nil, false
	}
	if !goid.Panicking() {
		forget(id, v)
		return nil, false
	}
	return v.(*mark).value, true
}

// ClearUnwinding removes the mark of the calling goroutine, if any. Guard
// releases call it when they observe no panic in flight, which means any
// earlier panic was recovered.
func ClearUnwinding() {
	if unwinding.count.Load() == 0 {
		return
	}
	id := goid.Get()
	if v, ok := unwinding.marks.Load(id); ok {
		forget(id, v)
	}
}

func forget(id uint64, v interface{}) {
	if unwinding.marks.CompareAndDelete(id, v) {
		unwinding.count.Add(-1)
	}
}

func maybePrune() {
	now := time.Now().UnixNano()
	last := unwinding.pruned.Load()
	if now-last < int64(pruneEvery) || !unwinding.pruned.CompareAndSwap(last, now) {
		return
	}
	PruneUnwinding()
}

// PruneUnwinding drops the marks of goroutines that have exited or are no
// longer panicking, and returns the number of marks left.
func PruneUnwinding() int {
	if unwinding.count.Load() == 0 {
		return 0
	}
	start := time.Now().UnixNano()
	live := goid.Live()

	left := 0
	unwinding.marks.Range(func(k, v interface{}) bool {
		id := k.(uint64)
		// Marks set after the scan started are left for the next one.
		if live[id] || v.(*mark).at >= start {
			left++
			return true
		}
		forget(id, v)
		return true
	})
	return left
}
