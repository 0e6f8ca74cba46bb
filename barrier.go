package pinnedsync

type barrierState struct {
	count      int
	generation uint
}

// Barrier blocks a fixed number of goroutines until all of them have
// called Wait, then releases them together. It can be reused for any
// number of rounds.
//
// A panic of a goroutine inside Wait does not affect later rounds.
type Barrier struct {
	_          noCopy
	lock       Mutex[barrierState]
	cvar       Condvar
	numThreads int
}

// BarrierWaitResult is returned by Barrier.Wait.
type BarrierWaitResult struct {
	leader bool
}

// IsLeader reports whether this goroutine completed the round. Exactly one
// goroutine per round is the leader.
func (r BarrierWaitResult) IsLeader() bool {
	return r.leader
}

// UninitBarrier returns a barrier for n goroutines that must be
// initialized with Init before use. A barrier for zero or one goroutine
// never blocks.
func UninitBarrier(n int) Barrier {
	return Barrier{
		lock:       UninitMutex(barrierState{}),
		cvar:       UninitCondvar(),
		numThreads: n,
	}
}

// NewBarrier allocates and initializes a barrier for n goroutines.
func NewBarrier(n int, opts ...Option) *Barrier {
	b := &Barrier{numThreads: n}
	b.Init(opts...)
	return b
}

// Init initializes the barrier in place. A name given WithName registers
// the barrier, counting its completed rounds.
func (b *Barrier) Init(opts ...Option) {
	b.lock.Init(append(opts, withKind(KindBarrier))...)
	b.cvar.Init()
}

// Wait blocks until n goroutines have called Wait in the current round.
func (b *Barrier) Wait() BarrierWaitResult {
	// The state stays consistent across panics, so poisoning is ignored.
	g, _ := b.lock.Lock()
	defer g.Unlock()

	st := g.Value()
	gen := st.generation

	st.count++
	if st.count < b.numThreads {
		for gen == st.generation && st.count < b.numThreads {
			_ = b.cvar.Wait(g)
		}
		return BarrierWaitResult{leader: false}
	}

	st.count = 0
	st.generation++
	b.lock.meta.Get().in.round()
	b.cvar.NotifyAll()

	return BarrierWaitResult{leader: true}
}

// Generation returns the number of completed rounds, wrapping on overflow.
func (b *Barrier) Generation() uint {
	g, _ := b.lock.Lock()
	defer g.Unlock()

	return g.Value().generation
}

// Stats returns the statistics of a named barrier, or zeros.
func (b *Barrier) Stats() StatsSnapshot {
	return b.lock.Stats()
}

// Close removes a named barrier from the registry.
func (b *Barrier) Close() {
	b.lock.Close()
}
