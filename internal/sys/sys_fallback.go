//go:build !linux || race || pinnedsync_fallback

package sys

import "github.com/christophcemper/pinnedsync/internal/sys/fallback"

// Backend names the implementation selected for this build.
const Backend = "fallback"

type (
	Mutex   = fallback.Mutex
	RWLock  = fallback.RWLock
	Condvar = fallback.Condvar
)

// MaxReaders bounds the concurrent readers of an RWLock.
const MaxReaders = fallback.MaxReaders
