// registry_test.go
package pinnedsync

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// resetRegistry gives the test an empty global registry.
func resetRegistry(t *testing.T) {
	old := globalRegistry
	globalRegistry = &registry{
		entries: make(map[string]*instrument),
	}
	t.Cleanup(func() { globalRegistry = old })
}

// captureLogs redirects the package logger to a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	buf := new(bytes.Buffer)
	old := *Logger()
	SetLogger(zerolog.New(buf).Level(zerolog.DebugLevel))
	t.Cleanup(func() { SetLogger(old) })
	return buf
}

func TestRegistry(t *testing.T) {
	resetRegistry(t)

	mutex1 := NewMutex(0, WithName("mutex1"))
	rw := NewRWLock(0, WithName("rwlock1"))
	NewMutex(0) // unnamed, not registered

	require.Equal(t, []string{"mutex1", "rwlock1"}, Registered())

	mutex1.Close()
	require.Equal(t, []string{"rwlock1"}, Registered())

	rw.Close()
	require.Empty(t, Registered())
}

func TestRegistry_SameName(t *testing.T) {
	resetRegistry(t)

	first := NewMutex(0, WithName("dup"))
	second := NewMutex(0, WithName("dup"))

	// Closing the replaced one leaves the newer entry alone.
	first.Close()
	require.Equal(t, []string{"dup"}, Registered())

	second.Close()
	require.Empty(t, Registered())
}

func TestRegistry_IntoInnerUnregisters(t *testing.T) {
	resetRegistry(t)

	m := NewMutex(1, WithName("consumed"))
	_, err := m.IntoInner()
	require.NoError(t, err)
	require.Empty(t, Registered())
}

func TestStats(t *testing.T) {
	resetRegistry(t)

	m := NewMutex(0, WithName("stats"))

	for i := 0; i < 3; i++ {
		g, _ := m.Lock()
		time.Sleep(time.Millisecond)
		g.Unlock()
	}

	s := m.Stats()
	require.EqualValues(t, 3, s.Acquisitions)
	require.EqualValues(t, 0, s.Contentions)
	require.GreaterOrEqual(t, s.TotalHold, 3*time.Millisecond)
	require.GreaterOrEqual(t, s.MaxHold, time.Millisecond)
	require.GreaterOrEqual(t, s.AvgHold(), time.Millisecond)

	require.Equal(t, StatsSnapshot{}, NewMutex(0).Stats())
}

func TestStats_Contention(t *testing.T) {
	resetRegistry(t)

	m := NewMutex(0, WithName("contended"))
	in := m.meta.Get().in

	g, _ := m.Lock()

	done := make(chan struct{})
	go func() {
		g, _ := m.Lock()
		g.Unlock()
		close(done)
	}()

	require.Eventually(t, func() bool { return in.waiting.Load() == 1 },
		time.Second, time.Millisecond)

	dump := DumpAllLockInfo(ShowWaiting)
	require.Contains(t, dump, "• contended (Mutex):")
	require.Contains(t, dump, "Waiting: 1")

	g.Unlock()
	<-done

	s := m.Stats()
	require.EqualValues(t, 2, s.Acquisitions)
	require.EqualValues(t, 1, s.Contentions)
	require.Greater(t, s.MaxWait, time.Duration(0))
}

func TestStats_Poison(t *testing.T) {
	resetRegistry(t)
	logs := captureLogs(t)

	l := NewRWLock(0, WithName("poisoned"))

	panicIn(func() {
		w, _ := l.Write()
		defer w.Unlock()
		panic("boom")
	})

	require.EqualValues(t, 1, l.Stats().PoisonEvents)
	require.Contains(t, logs.String(), "lock poisoned")
	require.Contains(t, logs.String(), "boom")

	// Acquiring the poisoned lock warns once.
	for i := 0; i < 3; i++ {
		r, _ := l.Read()
		r.Unlock()
	}
	require.Equal(t, 1, strings.Count(logs.String(), "acquired poisoned lock"))
}

func TestSlowLockWarnings(t *testing.T) {
	resetRegistry(t)
	logs := captureLogs(t)

	m := NewMutex(0, WithName("slow"), WithWarnAfter(time.Millisecond))

	g, _ := m.Lock()
	time.Sleep(5 * time.Millisecond)
	g.Unlock()

	require.Contains(t, logs.String(), "lock held too long")
	require.Contains(t, logs.String(), `"lock":"slow"`)

	// Unnamed locks never log.
	logs.Reset()
	u := NewMutex(0, WithWarnAfter(time.Millisecond))
	g, _ = u.Lock()
	time.Sleep(5 * time.Millisecond)
	g.Unlock()
	require.Empty(t, logs.String())
}

func TestDumpAllLockInfo(t *testing.T) {
	resetRegistry(t)

	NewMutex(0, WithName("test-idle"))
	held := NewRWLock(0, WithName("test-held"))
	poisoned := NewMutex(0, WithName("test-poisoned"))
	b := NewBarrier(1, WithName("test-barrier"))

	b.Wait()

	panicIn(func() {
		g, _ := poisoned.Lock()
		defer g.Unlock()
		panic("boom")
	})

	r, _ := held.Read()
	defer r.Unlock()

	all := DumpAllLockInfo()
	require.Contains(t, all, "Total Registered Locks: 4")
	require.Contains(t, all, "Active Filters: Poisoned, Contended, Held, Waiting")
	require.Contains(t, all, "• test-idle (Mutex):")
	require.Contains(t, all, "• test-held (RWLock):")
	require.Contains(t, all, "• test-barrier (Barrier):")
	require.Contains(t, all, "Rounds: 1")

	onlyPoisoned := DumpAllLockInfo(ShowPoisoned)
	require.Contains(t, onlyPoisoned, "Active Filters: Poisoned")
	require.Contains(t, onlyPoisoned, "• test-poisoned (Mutex):")
	require.Contains(t, onlyPoisoned, "Poisoned: true")
	require.Contains(t, onlyPoisoned, "Poison events: 1")
	require.NotContains(t, onlyPoisoned, "test-idle")
	require.NotContains(t, onlyPoisoned, "test-held")

	onlyHeld := DumpAllLockInfo(ShowHeld)
	require.Contains(t, onlyHeld, "• test-held (RWLock):")
	require.Contains(t, onlyHeld, "Held: 1")
	require.NotContains(t, onlyHeld, "test-poisoned")
}

func TestDescribeFilters(t *testing.T) {
	require.Equal(t, "None", describeFilters(0))
	require.Equal(t, "Held", describeFilters(ShowHeld))
	require.Equal(t, "Poisoned, Waiting", describeFilters(ShowPoisoned|ShowWaiting))
}
