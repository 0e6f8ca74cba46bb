package pinnedsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// panicIn runs fn in a fresh goroutine and returns what it panicked with.
func panicIn(fn func()) interface{} {
	done := make(chan interface{})
	go func() {
		defer func() { done <- recover() }()
		fn()
	}()
	return <-done
}

// withConfig installs cfg for the duration of the test.
func withConfig(t *testing.T, cfg Config) {
	old := CurrentConfig()
	SetConfig(cfg)
	t.Cleanup(func() { SetConfig(old) })
}

func TestMutex_Counter(t *testing.T) {
	const K, J = 6, 1000

	m := NewMutex(0)

	var eg errgroup.Group
	for i := 0; i < K; i++ {
		eg.Go(func() error {
			for j := 0; j < J; j++ {
				g, err := m.Lock()
				if err != nil {
					return err
				}
				*g.Value()++
				g.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	v, err := m.IntoInner()
	require.NoError(t, err)
	require.Equal(t, K*J, v)
}

func TestMutex_StaticPlacement(t *testing.T) {
	m := UninitMutex("a")
	m.Init()

	g, err := m.Lock()
	require.NoError(t, err)
	require.Equal(t, "a", *g.Value())
	*g.Value() = "b"
	g.Unlock()

	err = m.With(func(v *string) {
		require.Equal(t, "b", *v)
	})
	require.NoError(t, err)
}

func TestMutex_Uninitialized(t *testing.T) {
	var m Mutex[int]

	require.PanicsWithValue(t, ErrUninitialized, func() { m.Lock() })
	require.PanicsWithValue(t, ErrUninitialized, func() { m.TryLock() })

	// Exclusive access needs no initialization.
	p, err := m.GetMut()
	require.NoError(t, err)
	*p = 3

	v, err := m.IntoInner()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestMutex_DoubleInit(t *testing.T) {
	m := NewMutex(0)
	require.PanicsWithValue(t, ErrAlreadyInitialized, func() { m.Init() })
}

func TestMutex_TryLock(t *testing.T) {
	m := NewMutex(0)

	g, err := m.TryLock()
	require.NoError(t, err)

	g2, err := m.TryLock()
	require.ErrorIs(t, err, ErrWouldBlock)
	require.Nil(t, g2)

	g.Unlock()

	g, err = m.TryLock()
	require.NoError(t, err)
	g.Unlock()
}

func TestMutex_DoubleUnlock(t *testing.T) {
	m := NewMutex(0)

	g, err := m.Lock()
	require.NoError(t, err)
	g.Unlock()

	require.PanicsWithValue(t, ErrUnlockUnlocked, func() { g.Unlock() })
	require.PanicsWithValue(t, ErrReleased, func() { g.Value() })
}

func TestMutex_PanicPoisons(t *testing.T) {
	m := NewMutex(1)

	r := panicIn(func() {
		g, _ := m.Lock()
		defer g.Unlock()

		*g.Value() = 2
		panic("boom")
	})
	require.Equal(t, "boom", r)
	require.True(t, m.IsPoisoned())

	g, err := m.Lock()
	require.ErrorIs(t, err, ErrPoisoned)

	var perr *PoisonError[*MutexGuard[int]]
	require.True(t, errors.As(err, &perr))
	require.Same(t, g, perr.Into())
	require.Equal(t, 2, *g.Value())
	g.Unlock()

	_, err = m.TryLock()
	require.ErrorIs(t, err, ErrPoisoned)
}

func TestMutex_WithPoisons(t *testing.T) {
	m := NewMutex(0)

	r := panicIn(func() {
		m.With(func(v *int) {
			*v = 1
			panic("with")
		})
	})
	require.Equal(t, "with", r)

	err := m.With(func(v *int) {
		require.Equal(t, 1, *v)
	})
	require.ErrorIs(t, err, ErrPoisoned)
}

func TestMutex_ExplicitUnlockDoesNotPoison(t *testing.T) {
	m := NewMutex(0)

	panicIn(func() {
		g, _ := m.Lock()
		g.Unlock()
		panic("after unlock")
	})

	require.False(t, m.IsPoisoned())
}

func TestMutex_LockedWhileUnwindingNotPoisoned(t *testing.T) {
	first := NewMutex(0)
	second := NewMutex(0)

	r := panicIn(func() {
		g, _ := first.Lock()

		defer func() {
			g2, _ := second.Lock()
			defer g2.Unlock()

			// The same panic keeps going through g2.
			panic(recover())
		}()

		defer g.Unlock()

		panic("boom")
	})
	require.Equal(t, "boom", r)

	require.True(t, first.IsPoisoned())
	require.False(t, second.IsPoisoned())
}

// panicHolding locks m, panics with r while holding it and recovers.
func panicHolding(m *Mutex[int], r interface{}) {
	defer func() { recover() }()

	g, _ := m.Lock()
	defer g.Unlock()

	panic(r)
}

func TestMutex_RecoveredPanicThenPanicAgain(t *testing.T) {
	a := NewMutex(0)
	b := NewMutex(0)

	done := make(chan struct{})
	go func() {
		defer close(done)

		panicHolding(a, "boom")
		panicHolding(b, "boom")
	}()
	<-done

	require.True(t, a.IsPoisoned())
	require.True(t, b.IsPoisoned())
}

func TestMutex_RecoveredPanicThenLockedWhileUnwinding(t *testing.T) {
	a := NewMutex(0)
	b := NewMutex(0)
	c := NewMutex(0)

	r := panicIn(func() {
		panicHolding(a, "first")

		g, _ := b.Lock()

		defer func() {
			g2, _ := c.Lock()
			defer g2.Unlock()

			panic(recover())
		}()

		defer g.Unlock()

		panic("second")
	})
	require.Equal(t, "second", r)

	require.True(t, a.IsPoisoned())
	require.True(t, b.IsPoisoned())
	require.False(t, c.IsPoisoned())
}

func TestMutex_DoubleUnlockDuringPanic(t *testing.T) {
	m := NewMutex(0)

	r := panicIn(func() {
		g, _ := m.Lock()
		g.Unlock()

		defer g.Unlock()
		panic("boom")
	})
	require.Equal(t, "boom", r)
	require.False(t, m.IsPoisoned())
}

func TestMutex_IntoInnerPoisoned(t *testing.T) {
	m := NewMutex([]int{1})

	panicIn(func() {
		g, _ := m.Lock()
		defer g.Unlock()
		panic("boom")
	})

	v, err := m.IntoInner()
	require.Equal(t, []int{1}, v)

	var perr *PoisonError[[]int]
	require.True(t, errors.As(err, &perr))
	require.Equal(t, v, perr.Into())
}

func TestMutex_GetMut(t *testing.T) {
	m := NewMutex(10)

	p, err := m.GetMut()
	require.NoError(t, err)
	*p = 20

	g, err := m.Lock()
	require.NoError(t, err)
	require.Equal(t, 20, *g.Value())

	require.PanicsWithValue(t, ErrHeld, func() { m.GetMut() })

	g.Unlock()
}

func TestMutex_DetectReentry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectReentry = true
	withConfig(t, cfg)

	m := NewMutex(0)

	g, err := m.Lock()
	require.NoError(t, err)

	require.PanicsWithValue(t, ErrDeadlock, func() { m.Lock() })

	// Another goroutine just waits.
	done := make(chan struct{})
	go func() {
		g, _ := m.Lock()
		g.Unlock()
		close(done)
	}()

	g.Unlock()
	<-done

	g, err = m.Lock()
	require.NoError(t, err)
	g.Unlock()
}
