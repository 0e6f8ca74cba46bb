//go:build linux

package futex

import (
	"sync/atomic"

	"github.com/christophcemper/pinnedsync/internal/fatal"
	"github.com/christophcemper/pinnedsync/internal/initguard"
)

// RWLock word layout: the low 30 bits count readers, or hold writeLocked
// when a writer owns the lock. Bit 30 records that someone sleeps on the
// word.
const (
	readLocked  uint32 = 1
	mask        uint32 = 1<<30 - 1
	writeLocked        = mask
	waiters     uint32 = 1 << 30

	// MaxReaders is the number of concurrent readers the word can count.
	MaxReaders = int64(mask - 1)
)

// RWLock is a reader-writer lock with no preference between readers and
// writers.
type RWLock struct {
	state initguard.Cell[atomic.Uint32]
}

// Init prepares the lock for use. It panics if called twice.
func (l *RWLock) Init() {
	l.state.InitWith(func(*atomic.Uint32) {})
}

func (l *RWLock) RLock() {
	w := l.state.Get()
	for {
		s := w.Load()
		switch n := s & mask; {
		case n < uint32(MaxReaders):
			if w.CompareAndSwap(s, s+readLocked) {
				return
			}
		case n == uint32(MaxReaders):
			panic(fatal.ErrTooManyReaders)
		default:
			if s&waiters == 0 && !w.CompareAndSwap(s, s|waiters) {
				continue
			}
			wait(w, s|waiters, -1)
		}
	}
}

func (l *RWLock) TryRLock() bool {
	w := l.state.Get()
	for {
		s := w.Load()
		if s&mask >= uint32(MaxReaders) {
			return false
		}
		if w.CompareAndSwap(s, s+readLocked) {
			return true
		}
	}
}

func (l *RWLock) RUnlock() {
	w := l.state.Get()
	s := w.Add(^uint32(0))
	if s&mask == 0 && s&waiters != 0 {
		// Last reader out. If the CAS fails, a newer holder owns the
		// word and inherits the wake-up.
		if w.CompareAndSwap(s, 0) {
			wake(w, wakeAll)
		}
	}
}

func (l *RWLock) Lock() {
	w := l.state.Get()
	for {
		s := w.Load()
		if s&mask == 0 {
			if w.CompareAndSwap(s, s|writeLocked) {
				return
			}
			continue
		}
		if s&waiters == 0 && !w.CompareAndSwap(s, s|waiters) {
			continue
		}
		wait(w, s|waiters, -1)
	}
}

func (l *RWLock) TryLock() bool {
	w := l.state.Get()
	for {
		s := w.Load()
		if s&mask != 0 {
			return false
		}
		if w.CompareAndSwap(s, s|writeLocked) {
			return true
		}
	}
}

func (l *RWLock) Unlock() {
	w := l.state.Get()
	s := w.Swap(0)
	if s&mask != writeLocked {
		panic(fatal.ErrUnlockUnlocked)
	}
	if s&waiters != 0 {
		wake(w, wakeAll)
	}
}
