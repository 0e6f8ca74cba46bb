//go:build linux && !race && !pinnedsync_fallback

package sys

import "github.com/christophcemper/pinnedsync/internal/sys/futex"

// Backend names the implementation selected for this build.
const Backend = "futex"

type (
	Mutex   = futex.Mutex
	RWLock  = futex.RWLock
	Condvar = futex.Condvar
)

// MaxReaders bounds the concurrent readers of an RWLock.
const MaxReaders = futex.MaxReaders
