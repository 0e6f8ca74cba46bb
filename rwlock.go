package pinnedsync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/goid"
	"github.com/christophcemper/pinnedsync/internal/initguard"
	"github.com/christophcemper/pinnedsync/internal/poison"
	"github.com/christophcemper/pinnedsync/internal/sys"
)

// RWLock is a reader-writer lock around a value of type T: any number of
// readers or one writer at a time. Which side is preferred under
// contention depends on the backend.
//
// Its lifecycle is that of Mutex. Only a panic while holding the write
// guard poisons it.
//
// The lock keeps its own count of readers and a write flag next to the
// backend lock. An acquisition that finds them inconsistent with what the
// backend granted, as happens when a goroutine re-locks a lock it holds on
// a backend that allows it, panics with ErrDeadlock.
type RWLock[T any] struct {
	_           noCopy
	meta        initguard.Cell[lockMeta]
	inner       sys.RWLock
	writeLocked atomic.Bool
	numReaders  atomic.Int64
	poison      poison.Flag

	// Holder tracking, only with Config.DetectReentry.
	writer    atomic.Uint64
	readersMu sync.Mutex
	readers   map[uint64]int

	data T
}

// UninitRWLock returns a lock holding value that must be initialized with
// Init before use.
func UninitRWLock[T any](value T) RWLock[T] {
	return RWLock[T]{data: value}
}

// NewRWLock allocates and initializes a lock holding value.
func NewRWLock[T any](value T, opts ...Option) *RWLock[T] {
	l := &RWLock[T]{data: value}
	l.Init(opts...)
	return l
}

// Init initializes the lock in place. It panics with
// ErrAlreadyInitialized when called twice.
func (l *RWLock[T]) Init(opts ...Option) {
	l.meta.InitWith(func(meta *lockMeta) {
		*meta = newLockMeta(KindRWLock, opts, l.IsPoisoned)
		if meta.detect {
			l.readers = make(map[uint64]int)
		}
	})
	l.inner.Init()
}

// Read blocks until the lock is held for reading. A panic while holding
// the read guard does not poison the lock, but a poisoned lock still
// returns a *PoisonError[*RWLockReadGuard[T]] next to the guard.
//
// Read panics with ErrTooManyReaders when the reader limit is reached.
func (l *RWLock[T]) Read() (*RWLockReadGuard[T], error) {
	meta := l.meta.Get()
	me := l.checkReentry(meta, ReadLock)

	acquiredAt := meta.in.acquire(ReadLock, l.inner.TryRLock, l.inner.RLock)

	if l.writeLocked.Load() {
		meta.in.released(ReadLock, acquiredAt)
		l.inner.RUnlock()
		panic(ErrDeadlock)
	}

	if l.numReaders.Add(1) > meta.maxReaders {
		l.numReaders.Add(-1)
		meta.in.released(ReadLock, acquiredAt)
		l.inner.RUnlock()
		panic(ErrTooManyReaders)
	}

	return l.readGuard(meta, me, acquiredAt)
}

// TryRead is Read returning ErrWouldBlock instead of blocking or panicking.
// Unlike Read, reaching the reader limit is reported as ErrWouldBlock: the
// caller can back off and retry once a reader leaves.
func (l *RWLock[T]) TryRead() (*RWLockReadGuard[T], error) {
	meta := l.meta.Get()

	if !l.inner.TryRLock() {
		return nil, ErrWouldBlock
	}

	if l.writeLocked.Load() {
		l.inner.RUnlock()
		return nil, ErrWouldBlock
	}

	if l.numReaders.Add(1) > meta.maxReaders {
		l.numReaders.Add(-1)
		l.inner.RUnlock()
		return nil, ErrWouldBlock
	}

	var me uint64
	if meta.detect {
		me = goid.Get()
	}

	acquiredAt := meta.in.acquired(ReadLock, time.Now(), false)

	return l.readGuard(meta, me, acquiredAt)
}

func (l *RWLock[T]) readGuard(meta *lockMeta, me uint64, acquiredAt time.Time) (*RWLockReadGuard[T], error) {
	if meta.detect {
		l.readersMu.Lock()
		l.readers[me]++
		l.readersMu.Unlock()
	}

	g := &RWLockReadGuard[T]{l: l, goid: me, acquiredAt: acquiredAt}

	if l.poison.Get() {
		meta.in.poisonedAccess()
		return g, newPoisonError(g)
	}

	return g, nil
}

// Write blocks until the lock is held exclusively. When the lock is
// poisoned the guard is returned together with a
// *PoisonError[*RWLockWriteGuard[T]].
func (l *RWLock[T]) Write() (*RWLockWriteGuard[T], error) {
	meta := l.meta.Get()
	me := l.checkReentry(meta, WriteLock)

	acquiredAt := meta.in.acquire(WriteLock, l.inner.TryLock, l.inner.Lock)

	if l.writeLocked.Load() || l.numReaders.Load() != 0 {
		meta.in.released(WriteLock, acquiredAt)
		l.inner.Unlock()
		panic(ErrDeadlock)
	}

	return l.writeGuard(meta, me, acquiredAt)
}

// TryWrite is Write returning ErrWouldBlock instead of blocking or
// panicking.
func (l *RWLock[T]) TryWrite() (*RWLockWriteGuard[T], error) {
	meta := l.meta.Get()

	if !l.inner.TryLock() {
		return nil, ErrWouldBlock
	}

	if l.writeLocked.Load() || l.numReaders.Load() != 0 {
		l.inner.Unlock()
		return nil, ErrWouldBlock
	}

	var me uint64
	if meta.detect {
		me = goid.Get()
	}

	acquiredAt := meta.in.acquired(WriteLock, time.Now(), false)

	return l.writeGuard(meta, me, acquiredAt)
}

func (l *RWLock[T]) writeGuard(meta *lockMeta, me uint64, acquiredAt time.Time) (*RWLockWriteGuard[T], error) {
	l.writeLocked.Store(true)
	if meta.detect {
		l.writer.Store(me)
	}

	tok, poisoned := l.poison.Borrow()
	g := &RWLockWriteGuard[T]{l: l, token: tok, acquiredAt: acquiredAt}

	if poisoned {
		meta.in.poisonedAccess()
		return g, newPoisonError(g)
	}

	return g, nil
}

// checkReentry panics with ErrDeadlock when the calling goroutine already
// holds the lock in a way that makes the acquisition block forever.
// Nested read locks are allowed.
func (l *RWLock[T]) checkReentry(meta *lockMeta, mode LockMode) uint64 {
	if !meta.detect {
		return 0
	}

	me := goid.Get()

	if l.writer.Load() == me {
		panic(ErrDeadlock)
	}

	if mode == WriteLock {
		l.readersMu.Lock()
		n := l.readers[me]
		l.readersMu.Unlock()

		if n > 0 {
			panic(ErrDeadlock)
		}
	}

	return me
}

// WithRead runs fn with the lock held for reading. fn must not modify the
// value. A panic in fn is propagated without poisoning.
func (l *RWLock[T]) WithRead(fn func(v *T)) error {
	g, err := l.Read()
	defer g.Unlock()

	fn(g.Value())

	return err
}

// WithWrite runs fn with the lock held exclusively. A panic in fn poisons
// the lock and is propagated.
func (l *RWLock[T]) WithWrite(fn func(v *T)) error {
	g, err := l.Write()
	defer g.Unlock()

	fn(g.Value())

	return err
}

// IsPoisoned reports whether the lock is poisoned. The answer may be stale
// by the time it is used.
func (l *RWLock[T]) IsPoisoned() bool {
	return l.poison.Get()
}

// IntoInner returns the guarded value, for a lock that no goroutine will
// use again. A named lock is removed from the registry.
func (l *RWLock[T]) IntoInner() (T, error) {
	l.Close()

	if l.poison.Get() {
		return l.data, newPoisonError(l.data)
	}

	return l.data, nil
}

// GetMut returns a pointer to the guarded value without locking. It panics
// with ErrHeld when the lock is held in any mode.
func (l *RWLock[T]) GetMut() (*T, error) {
	if l.meta.Initialized() {
		if !l.inner.TryLock() {
			panic(ErrHeld)
		}
		l.inner.Unlock()
	}

	if l.poison.Get() {
		return &l.data, newPoisonError(&l.data)
	}

	return &l.data, nil
}

// Readers returns the number of read guards currently held.
func (l *RWLock[T]) Readers() int64 {
	return l.numReaders.Load()
}

// Stats returns the statistics of a named lock, or zeros.
func (l *RWLock[T]) Stats() StatsSnapshot {
	return l.meta.Get().in.snapshot()
}

// Close removes a named lock from the registry. The lock stays usable.
func (l *RWLock[T]) Close() {
	if !l.meta.Initialized() {
		return
	}

	in := l.meta.Get().in
	if in == nil {
		return
	}

	if in.held.Load() > 0 {
		Logger().Warn().Str("lock", in.name).Msg("closing a held lock")
	}

	globalRegistry.unregister(in)
}

// RWLockReadGuard is the proof that an RWLock is held for reading.
type RWLockReadGuard[T any] struct {
	l          *RWLock[T]
	goid       uint64
	acquiredAt time.Time
}

// Value returns the guarded value for reading.
func (g *RWLockReadGuard[T]) Value() *T {
	if g.l == nil {
		panic(ErrReleased)
	}
	return &g.l.data
}

// Unlock releases the read lock. It never poisons.
func (g *RWLockReadGuard[T]) Unlock() {
	l := g.l
	if l == nil {
		panic(ErrUnlockUnlocked)
	}
	g.l = nil

	meta := l.meta.Get()

	if meta.detect {
		l.readersMu.Lock()
		if l.readers[g.goid]--; l.readers[g.goid] <= 0 {
			delete(l.readers, g.goid)
		}
		l.readersMu.Unlock()
	}

	l.numReaders.Add(-1)
	meta.in.released(ReadLock, g.acquiredAt)
	l.inner.RUnlock()
}

// RWLockWriteGuard is the proof that an RWLock is held exclusively.
type RWLockWriteGuard[T any] struct {
	l          *RWLock[T]
	token      poison.Token
	acquiredAt time.Time
}

// Value returns the guarded value.
func (g *RWLockWriteGuard[T]) Value() *T {
	if g.l == nil {
		panic(ErrReleased)
	}
	return &g.l.data
}

// Unlock releases the write lock. Called directly by a defer statement
// during a panic, it poisons the lock and lets the panic continue.
func (g *RWLockWriteGuard[T]) Unlock() {
	r := recover()

	if g.l == nil {
		misusedDuring(r)
	}

	g.release(r)

	if r != nil {
		poison.MarkUnwinding(r)
		panic(r)
	}

	poison.ClearUnwinding()
}

func (g *RWLockWriteGuard[T]) release(r interface{}) {
	l := g.l
	g.l = nil

	meta := l.meta.Get()

	l.writeLocked.Store(false)
	if meta.detect {
		l.writer.Store(0)
	}

	if l.poison.Done(g.token, r) {
		meta.in.poisonedBy(r)
	}

	meta.in.released(WriteLock, g.acquiredAt)
	l.inner.Unlock()
}
