package goid

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGet_Stable(t *testing.T) {
	id := Get()
	require.NotZero(t, id)
	require.Equal(t, id, Get())
}

// TestGet_Unique verifies that:
// 1. Each goroutine gets a unique ID
// 2. IDs remain consistent within the same goroutine
func TestGet_Unique(t *testing.T) {
	const numGoroutines = 1000

	var (
		wg         sync.WaitGroup
		ids        sync.Map
		duplicates atomic.Int32
		failures   atomic.Int32
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			id1 := Get()
			time.Sleep(time.Microsecond)
			id2 := Get()

			if id1 != id2 {
				failures.Add(1)
				return
			}
			if _, loaded := ids.LoadOrStore(id1, n); loaded {
				duplicates.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Zero(t, duplicates.Load())
	require.Zero(t, failures.Load())
}

func TestLive(t *testing.T) {
	started := make(chan uint64)
	stop := make(chan struct{})
	go func() {
		started <- Get()
		<-stop
	}()
	other := <-started

	live := Live()
	require.Contains(t, live, Get())
	require.Contains(t, live, other)
	require.False(t, live[other])

	close(stop)
}

func TestPanicking(t *testing.T) {
	require.False(t, Panicking())

	var during, after bool
	func() {
		defer func() {
			during = Panicking()
			recover()
		}()
		panic("boom")
	}()
	after = Panicking()

	require.True(t, during)
	require.False(t, after)
}

func TestLive_Panicking(t *testing.T) {
	unwinding := make(chan uint64)
	stop := make(chan struct{})
	go func() {
		defer func() { recover() }()
		defer func() {
			unwinding <- Get()
			<-stop
		}()
		panic("boom")
	}()
	other := <-unwinding

	live := Live()
	require.True(t, live[other])
	require.False(t, live[Get()])

	close(stop)
}

func TestPanickingParse(t *testing.T) {
	const during = "goroutine 7 [running]:\n" +
		"main.main.func1()\n\t/tmp/x.go:10 +0x25\n" +
		"panic({0x4a1b20?, 0x4e2f50?})\n\t/usr/local/go/src/runtime/panic.go:770 +0x132\n" +
		"main.main()\n\t/tmp/x.go:12 +0x45\n"
	const user = "goroutine 7 [running]:\n" +
		"main.panic(...)\n\t/tmp/x.go:3\n" +
		"main.main()\n\t/tmp/x.go:12 +0x45\n"

	require.True(t, panicking([]byte(during)))
	require.False(t, panicking([]byte(user)))
	require.False(t, panicking(nil))
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		input  string
		expect uint64
	}{
		{input: "goroutine 1 [running]:\nmain.main()", expect: 1},
		{input: "goroutine 18446744073709551615 [chan receive]:", expect: 18446744073709551615},
		{input: "goroutine x [running]:", expect: 0},
		{input: "thread 3", expect: 0},
		{input: "", expect: 0},
	} {
		require.Equal(t, tc.expect, parse([]byte(tc.input)), tc.input)
	}
}
