package pinnedsync

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"
)

// LockStats tracks the statistics of a named primitive.
type LockStats struct {
	acquisitions atomic.Int64
	contentions  atomic.Int64
	totalWait    atomic.Int64 // in nanoseconds
	maxWait      atomic.Int64 // in nanoseconds
	totalHold    atomic.Int64 // in nanoseconds
	maxHold      atomic.Int64 // in nanoseconds
	poisonEvents atomic.Int64
	rounds       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of LockStats. The fields are read
// one by one, so a snapshot taken under load may be slightly inconsistent.
type StatsSnapshot struct {
	Acquisitions int64
	// Contentions counts the acquisitions that had to block.
	Contentions  int64
	TotalWait    time.Duration
	MaxWait      time.Duration
	TotalHold    time.Duration
	MaxHold      time.Duration
	PoisonEvents int64
	// Rounds counts completed barrier generations.
	Rounds int64
}

// Snapshot copies the current values.
func (s *LockStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Acquisitions: s.acquisitions.Load(),
		Contentions:  s.contentions.Load(),
		TotalWait:    time.Duration(s.totalWait.Load()),
		MaxWait:      time.Duration(s.maxWait.Load()),
		TotalHold:    time.Duration(s.totalHold.Load()),
		MaxHold:      time.Duration(s.maxHold.Load()),
		PoisonEvents: s.poisonEvents.Load(),
		Rounds:       s.rounds.Load(),
	}
}

// AvgHold is the mean hold time, or zero before the first acquisition.
func (s StatsSnapshot) AvgHold() time.Duration {
	if s.Acquisitions == 0 {
		return 0
	}
	return s.TotalHold / time.Duration(s.Acquisitions)
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		current := v.Load()
		if n <= current {
			return
		}
		if v.CompareAndSwap(current, n) {
			return
		}
	}
}

// instrument is the bookkeeping of a named primitive. Every method accepts
// a nil receiver, which is what unnamed primitives carry.
type instrument struct {
	name      string
	kind      Kind
	warnAfter time.Duration
	poisoned  func() bool

	stats   LockStats
	held    atomic.Int64
	waiting atomic.Int64

	// lastPoison is the filtered stack of the most recent poisoning panic.
	lastPoison atomic.Pointer[string]
}

// acquire takes the lock through tryLock or, when that fails, lock, and
// returns the acquisition time.
func (in *instrument) acquire(mode LockMode, tryLock func() bool, lock func()) time.Time {
	if in == nil {
		lock()
		return time.Time{}
	}

	start := time.Now()

	contended := false
	if !tryLock() {
		contended = true
		in.waiting.Add(1)
		lock()
		in.waiting.Add(-1)
	}

	return in.acquired(mode, start, contended)
}

func (in *instrument) acquired(mode LockMode, start time.Time, contended bool) time.Time {
	if in == nil {
		return time.Time{}
	}

	now := time.Now()
	wait := now.Sub(start)

	in.held.Add(1)
	in.stats.acquisitions.Add(1)
	if contended {
		in.stats.contentions.Add(1)
	}
	in.stats.totalWait.Add(int64(wait))
	storeMax(&in.stats.maxWait, int64(wait))

	in.logSlow("lock acquired too slow", mode, wait)

	return now
}

func (in *instrument) released(mode LockMode, acquiredAt time.Time) {
	if in == nil {
		return
	}

	hold := time.Since(acquiredAt)

	in.held.Add(-1)
	in.stats.totalHold.Add(int64(hold))
	storeMax(&in.stats.maxHold, int64(hold))

	in.logSlow("lock held too long", mode, hold)
}

// poisonedBy records a release that poisoned the primitive.
func (in *instrument) poisonedBy(r interface{}) {
	if in == nil {
		return
	}

	in.stats.poisonEvents.Add(1)

	stack := filterStack(debug.Stack())
	in.lastPoison.Store(&stack)

	Logger().Error().
		Str("lock", in.name).
		Stringer("kind", in.kind).
		Str("panic", fmt.Sprint(r)).
		Str("stack", stack).
		Msg("lock poisoned")
}

// poisonedAccess warns, once per primitive, that a poisoned lock is still
// being acquired.
func (in *instrument) poisonedAccess() {
	if in == nil {
		return
	}

	if PrintOncef("poisoned access %s %p", in.name, in) {
		Logger().Warn().
			Str("lock", in.name).
			Str("caller", getCallerInfo()).
			Msg("acquired poisoned lock")
	}
}

func (in *instrument) round() {
	if in == nil {
		return
	}
	in.stats.rounds.Add(1)
}

func (in *instrument) snapshot() StatsSnapshot {
	if in == nil {
		return StatsSnapshot{}
	}
	return in.stats.Snapshot()
}

func (in *instrument) logSlow(msg string, mode LockMode, d time.Duration) {
	if in.warnAfter <= 0 || d <= in.warnAfter {
		return
	}

	Logger().Warn().
		Str("lock", in.name).
		Stringer("mode", mode).
		Dur("took", d).
		Dur("limit", in.warnAfter).
		Str("caller", getCallerInfo()).
		Msg(msg)
}

// shouldIncludeLine returns true if the line should be included in stack
// traces and caller information, filtering out runtime, testing and
// library frames.
func shouldIncludeLine(line string) bool {
	// we want to see the test code in the stack trace
	if strings.Contains(line, "_test.go") ||
		strings.Contains(line, "pinnedsync/examples") {
		return true
	}
	return !strings.Contains(line, "runtime/") &&
		!strings.Contains(line, "runtime.") &&
		!strings.Contains(line, "testing/") &&
		!strings.Contains(line, "testing.") &&
		!strings.Contains(line, "christophcemper/pinnedsync") &&
		!strings.Contains(line, "debug.Stack")
}

// filterStack removes runtime, testing and library lines from a stack trace.
func filterStack(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	filtered := lines[:0]
	for _, line := range lines {
		if shouldIncludeLine(line) {
			filtered = append(filtered, line)
		}
	}
	return strings.Join(filtered, "\n")
}

func isAppFrame(f runtime.Frame) bool {
	if strings.HasSuffix(f.File, "_test.go") ||
		strings.Contains(f.Function, "pinnedsync/examples") {
		return true
	}
	return shouldIncludeLine(f.Function)
}

// getCallerInfo returns the first application frame above the library.
func getCallerInfo() string {
	var pcs [32]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if isAppFrame(frame) {
			parts := strings.Split(frame.Function, "/")
			return fmt.Sprintf("%s %s:%d", parts[len(parts)-1], frame.File, frame.Line)
		}
		if !more {
			return "unknown"
		}
	}
}
