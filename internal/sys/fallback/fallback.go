// Package fallback implements the portable backend on top of the Go
// runtime's own locks. It is used where the futex backend is unavailable
// and in race-detector builds, which cannot see futex synchronization.
package fallback

import (
	"sync"

	"github.com/christophcemper/pinnedsync/internal/initguard"
)

// MaxReaders is the reader count sync.RWMutex supports.
const MaxReaders = int64(1<<30 - 1)

// Mutex delegates to sync.Mutex.
type Mutex struct {
	mu initguard.Cell[sync.Mutex]
}

// Init prepares the mutex for use. It panics if called twice.
func (m *Mutex) Init() {
	m.mu.InitWith(func(*sync.Mutex) {})
}

func (m *Mutex) Lock()         { m.mu.Get().Lock() }
func (m *Mutex) TryLock() bool { return m.mu.Get().TryLock() }
func (m *Mutex) Unlock()       { m.mu.Get().Unlock() }

// RWLock delegates to sync.RWMutex.
type RWLock struct {
	rw initguard.Cell[sync.RWMutex]
}

// Init prepares the lock for use. It panics if called twice.
func (l *RWLock) Init() {
	l.rw.InitWith(func(*sync.RWMutex) {})
}

func (l *RWLock) RLock()         { l.rw.Get().RLock() }
func (l *RWLock) TryRLock() bool { return l.rw.Get().TryRLock() }
func (l *RWLock) RUnlock()       { l.rw.Get().RUnlock() }
func (l *RWLock) Lock()          { l.rw.Get().Lock() }
func (l *RWLock) TryLock() bool  { return l.rw.Get().TryLock() }
func (l *RWLock) Unlock()        { l.rw.Get().Unlock() }
