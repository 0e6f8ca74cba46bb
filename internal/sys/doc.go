// Package sys selects the lock backend for the current build.
//
// Linux builds use the futex backend, which embeds each lock word by value.
// Other platforms, race-detector builds, and builds tagged
// pinnedsync_fallback use the fallback backend built on package sync.
// Both expose the same method sets:
//
//	Mutex:   Init, Lock, TryLock, Unlock
//	RWLock:  Init, RLock, TryRLock, RUnlock, Lock, TryLock, Unlock
//	Condvar: Init, NotifyOne, NotifyAll, Wait(*Mutex), WaitTimeout(*Mutex, time.Duration) bool
package sys
