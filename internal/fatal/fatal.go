// Package fatal holds the panic values of unrecoverable lock misuse.
// They are errors so that a recovering caller can match them with
// errors.Is.
package fatal

import "golang.org/x/xerrors"

var (
	ErrDeadlock       = xerrors.New("pinnedsync: lock would result in deadlock")
	ErrTooManyReaders = xerrors.New("pinnedsync: maximum reader count exceeded")
	ErrTwoMutexes     = xerrors.New("pinnedsync: condition variable used with two mutexes")
	ErrUnlockUnlocked = xerrors.New("pinnedsync: unlock of unlocked lock")
	ErrReleased       = xerrors.New("pinnedsync: use of released guard")
	ErrHeld           = xerrors.New("pinnedsync: exclusive access requested while the lock is held")
)
