package pinnedsync

import (
	"github.com/christophcemper/pinnedsync/internal/fatal"
	"github.com/christophcemper/pinnedsync/internal/initguard"
	"github.com/christophcemper/pinnedsync/internal/poison"
	"golang.org/x/xerrors"
)

var (
	// ErrPoisoned is wrapped by every PoisonError.
	ErrPoisoned = xerrors.New("pinnedsync: lock poisoned by a panicking holder")

	// ErrWouldBlock is returned by the Try methods when the lock is held.
	ErrWouldBlock = xerrors.New("pinnedsync: lock would block")
)

// Panic values of misuse. None of them is ever returned as an error.
var (
	ErrUninitialized      = initguard.ErrUninitialized
	ErrAlreadyInitialized = initguard.ErrAlreadyInitialized
	ErrMoved              = initguard.ErrMoved
	ErrDeadlock           = fatal.ErrDeadlock
	ErrTooManyReaders     = fatal.ErrTooManyReaders
	ErrTwoMutexes         = fatal.ErrTwoMutexes
	ErrUnlockUnlocked     = fatal.ErrUnlockUnlocked
	ErrReleased           = fatal.ErrReleased
	ErrHeld               = fatal.ErrHeld
)

// PoisonError reports that a lock was acquired after a previous exclusive
// holder panicked. It carries what the call would have returned had the
// lock not been poisoned: a guard, or the guarded value.
//
// Poisoning never denies access. A caller that can repair or tolerate the
// data keeps using the guard.
type PoisonError[G any] struct {
	inner G
}

func newPoisonError[G any](inner G) error {
	return &PoisonError[G]{inner: inner}
}

func (e *PoisonError[G]) Error() string {
	return ErrPoisoned.Error()
}

// Unwrap makes errors.Is(err, ErrPoisoned) hold.
func (e *PoisonError[G]) Unwrap() error {
	return ErrPoisoned
}

// Into returns the guard or value carried by the error.
func (e *PoisonError[G]) Into() G {
	return e.inner
}

// PruneUnwinding forgets the panics of goroutines that have exited or
// recovered and returns how many goroutines are still recorded as
// panicking.
//
// A goroutine whose panic leaves a guard's deferred Unlock is recorded so
// that locks it takes while that same panic unwinds are not poisoned by it.
// Records are dropped on their own: by the goroutine's next release or
// acquisition once the panic is recovered, and by a periodic scan for
// goroutines that have exited. Calling this only makes the scan happen now.
func PruneUnwinding() int {
	return poison.PruneUnwinding()
}
