/*
Package pinnedsync provides locks that are allocated uninitialized,
initialized once in place, and never moved afterwards, and whose exclusive
locks are poisoned by a panicking holder.

Types:
  - Mutex[T]: mutual exclusion around a value of type T
  - RWLock[T]: readers-writer lock around a value of type T
  - Condvar: condition variable used with a Mutex
  - Barrier: reusable rendezvous of a fixed number of goroutines

Lifecycle:

	var counter = pinnedsync.UninitMutex(0)

	func init() {
		counter.Init()
	}

or, on the heap, in one step:

	counter := pinnedsync.NewMutex(0)

Using a primitive before Init panics with ErrUninitialized, and using an
initialized primitive through a copy panics with ErrMoved.

Poisoning:

	g, err := counter.Lock()
	defer g.Unlock()
	if errors.Is(err, pinnedsync.ErrPoisoned) {
		// g is valid; the data may be half-updated.
	}
	*g.Value()++

Unlock must be deferred directly for a panic to poison the lock: it
recovers the panic, marks the lock, and panics again with the same value.
Read guards of an RWLock never poison.

Instrumentation:

Primitives initialized WithName are registered globally. They keep
statistics (Stats), log waits and holds longer than Config.WarnAfter
through zerolog, appear in DumpAllLockInfo, and are exported by the
Prometheus collector of NewCollector.

Configuration is read once from PINNEDSYNC_* environment variables and an
optional YAML file (see ConfigFromEnv), or set with SetConfig.

The native backend on Linux is built on futexes. Race-detector builds,
other systems, and builds tagged pinnedsync_fallback use the sync package.
*/
package pinnedsync
