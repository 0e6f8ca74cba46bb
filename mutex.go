// Copyright (c) 2024 Christoph C. Cemper
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package pinnedsync

import (
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/goid"
	"github.com/christophcemper/pinnedsync/internal/initguard"
	"github.com/christophcemper/pinnedsync/internal/poison"
	"github.com/christophcemper/pinnedsync/internal/sys"
)

// noCopy lets go vet's copylocks check flag copies of the primitives.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// lockMeta is the per-primitive state fixed at Init.
type lockMeta struct {
	detect     bool
	maxReaders int64
	in         *instrument
}

func newLockMeta(kind Kind, opts []Option, poisoned func() bool) lockMeta {
	cfg := CurrentConfig()
	o := newOptions(cfg, kind, opts)

	return lockMeta{
		detect:     cfg.DetectReentry,
		maxReaders: Config{MaxReaders: o.maxReaders}.maxReaders(),
		in:         o.instrument(poisoned),
	}
}

// Mutex is a mutual exclusion lock around a value of type T.
//
// A Mutex is created uninitialized by UninitMutex (or as a zero value),
// initialized in place by Init, and must not be copied afterwards. NewMutex
// does both steps on the heap.
//
// A Mutex is poisoned when a guard is released by a panic propagating
// through a deferred Unlock. Every later acquisition still succeeds but
// returns a *PoisonError next to the guard.
type Mutex[T any] struct {
	_      noCopy
	meta   initguard.Cell[lockMeta]
	inner  sys.Mutex
	poison poison.Flag
	owner  atomic.Uint64
	data   T
}

// UninitMutex returns a mutex holding value that must be initialized with
// Init before use. It is meant for package-level variables and fields of
// structs that are themselves never moved.
func UninitMutex[T any](value T) Mutex[T] {
	return Mutex[T]{data: value}
}

// NewMutex allocates and initializes a mutex holding value.
func NewMutex[T any](value T, opts ...Option) *Mutex[T] {
	m := &Mutex[T]{data: value}
	m.Init(opts...)
	return m
}

// Init initializes the mutex in place. It panics with
// ErrAlreadyInitialized when called twice.
func (m *Mutex[T]) Init(opts ...Option) {
	m.meta.InitWith(func(meta *lockMeta) {
		*meta = newLockMeta(KindMutex, opts, m.IsPoisoned)
	})
	m.inner.Init()
}

// Lock blocks until the mutex is acquired. When the mutex is poisoned the
// guard is returned together with a *PoisonError[*MutexGuard[T]] holding
// the same guard.
func (m *Mutex[T]) Lock() (*MutexGuard[T], error) {
	meta := m.meta.Get()

	var me uint64
	if meta.detect {
		me = goid.Get()
		if m.owner.Load() == me {
			panic(ErrDeadlock)
		}
	}

	acquiredAt := meta.in.acquire(WriteLock, m.inner.TryLock, m.inner.Lock)

	return m.guard(meta, me, acquiredAt)
}

// TryLock acquires the mutex if it is free and returns ErrWouldBlock
// otherwise.
func (m *Mutex[T]) TryLock() (*MutexGuard[T], error) {
	meta := m.meta.Get()

	if !m.inner.TryLock() {
		return nil, ErrWouldBlock
	}

	var me uint64
	if meta.detect {
		me = goid.Get()
	}

	acquiredAt := meta.in.acquired(WriteLock, time.Now(), false)

	return m.guard(meta, me, acquiredAt)
}

func (m *Mutex[T]) guard(meta *lockMeta, me uint64, acquiredAt time.Time) (*MutexGuard[T], error) {
	if meta.detect {
		m.owner.Store(me)
	}

	tok, poisoned := m.poison.Borrow()
	g := &MutexGuard[T]{m: m, token: tok, acquiredAt: acquiredAt}

	if poisoned {
		meta.in.poisonedAccess()
		return g, newPoisonError(g)
	}

	return g, nil
}

// With runs fn with the mutex held. A panic in fn poisons the mutex and is
// propagated. The returned error is the poison error observed when the
// mutex was acquired; fn runs either way.
func (m *Mutex[T]) With(fn func(v *T)) error {
	g, err := m.Lock()
	defer g.Unlock()

	fn(g.Value())

	return err
}

// IsPoisoned reports whether the mutex is poisoned. Another goroutine may
// poison it right after this returns false.
func (m *Mutex[T]) IsPoisoned() bool {
	return m.poison.Get()
}

// IntoInner returns the guarded value, for a mutex that no goroutine will
// use again. A named mutex is removed from the registry.
func (m *Mutex[T]) IntoInner() (T, error) {
	m.Close()

	if m.poison.Get() {
		return m.data, newPoisonError(m.data)
	}

	return m.data, nil
}

// GetMut returns a pointer to the guarded value without locking, for a
// caller that knows no other goroutine can reach the mutex. It panics with
// ErrHeld when the mutex is locked.
func (m *Mutex[T]) GetMut() (*T, error) {
	if m.meta.Initialized() {
		if !m.inner.TryLock() {
			panic(ErrHeld)
		}
		m.inner.Unlock()
	}

	if m.poison.Get() {
		return &m.data, newPoisonError(&m.data)
	}

	return &m.data, nil
}

// Stats returns the statistics of a named mutex, or zeros.
func (m *Mutex[T]) Stats() StatsSnapshot {
	return m.meta.Get().in.snapshot()
}

// Close removes a named mutex from the registry. The mutex stays usable.
func (m *Mutex[T]) Close() {
	if !m.meta.Initialized() {
		return
	}

	in := m.meta.Get().in
	if in == nil {
		return
	}

	if in.held.Load() > 0 {
		Logger().Warn().Str("lock", in.name).Msg("closing a held lock")
	}

	globalRegistry.unregister(in)
}

// MutexGuard is the proof that a Mutex is held. Release it exactly once
// with Unlock, normally deferred right after Lock.
type MutexGuard[T any] struct {
	m          *Mutex[T]
	token      poison.Token
	acquiredAt time.Time
}

// Value returns the guarded value. The pointer must not be used after
// Unlock.
func (g *MutexGuard[T]) Value() *T {
	if g.m == nil {
		panic(ErrReleased)
	}
	return &g.m.data
}

// Unlock releases the mutex. Called directly by a defer statement during a
// panic, it poisons the mutex and lets the panic continue.
func (g *MutexGuard[T]) Unlock() {
	r := recover()

	if g.m == nil {
		misusedDuring(r)
	}

	g.release(r)

	if r != nil {
		poison.MarkUnwinding(r)
		panic(r)
	}

	poison.ClearUnwinding()
}

func (g *MutexGuard[T]) release(r interface{}) {
	m := g.m
	g.m = nil

	meta := m.meta.Get()

	if m.poison.Done(g.token, r) {
		meta.in.poisonedBy(r)
	}

	if meta.detect {
		m.owner.Store(0)
	}

	meta.in.released(WriteLock, g.acquiredAt)
	m.inner.Unlock()
}

// misusedDuring panics for the release of a released guard. A panic r
// already in flight keeps going unchanged; the misuse is only logged.
func misusedDuring(r interface{}) {
	if r == nil {
		panic(ErrUnlockUnlocked)
	}

	Logger().Error().
		Err(ErrUnlockUnlocked).
		Interface("panic", r).
		Msg("released guard unlocked during panic")

	panic(r)
}

func (g *MutexGuard[T]) rawMutex() *sys.Mutex {
	if g.m == nil {
		panic(ErrReleased)
	}
	return &g.m.inner
}

// suspend hands the mutex to a condition variable wait.
func (g *MutexGuard[T]) suspend() {
	meta := g.m.meta.Get()

	if meta.detect {
		g.m.owner.Store(0)
	}

	meta.in.released(WriteLock, g.acquiredAt)
}

// resume takes the mutex back after the wait re-acquired it.
func (g *MutexGuard[T]) resume() error {
	meta := g.m.meta.Get()

	if meta.detect {
		g.m.owner.Store(goid.Get())
	}

	g.acquiredAt = meta.in.acquired(WriteLock, time.Now(), false)

	if g.m.poison.Get() {
		return newPoisonError(g)
	}

	return nil
}
