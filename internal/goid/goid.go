// Package goid reads goroutine identifiers from runtime stack headers.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var (
	prefix = []byte("goroutine ")

	panicFrame = []byte("\npanic(")
	panicFile  = []byte("runtime/panic.go")

	// Pool of reusable buffers to minimize allocations during stack trace capture
	// Uses pointer to slice to prevent copying and reduce allocations
	bufferPool = sync.Pool{
		New: func() interface{} {
			b := make([]byte, 64)
			return &b
		},
	}
)

// Get returns the identifier of the calling goroutine.
// Identifiers are never reused during the life of the process.
func Get() uint64 {
	bp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bp)

	// Only the header line "goroutine N [state]:" is needed.
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// Panicking reports whether a panic is propagating through the calling
// goroutine, that is whether one of its frames is the runtime's panic
// entry point. A recovered panic stops showing up once the deferred call
// that recovered it returns.
func Panicking() bool {
	return panicking(stack(1<<10, false))
}

// Live returns the goroutines that currently exist, each mapped to whether
// a panic is propagating through it. It stops the world briefly and is
// meant for housekeeping, not hot paths.
func Live() map[uint64]bool {
	buf := stack(1<<16, true)

	live := make(map[uint64]bool)
	for _, block := range bytes.Split(buf, []byte("\n\n")) {
		if id := parse(block); id != 0 {
			live[id] = panicking(block)
		}
	}
	return live
}

func stack(size int, all bool) []byte {
	buf := make([]byte, size)
	for {
		n := runtime.Stack(buf, all)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// panicking looks for a "panic(...)" frame located in runtime/panic.go.
func panicking(stack []byte) bool {
	for {
		i := bytes.Index(stack, panicFrame)
		if i < 0 {
			return false
		}
		stack = stack[i+len(panicFrame):]

		// The frame's file is on the line after the call.
		j := bytes.IndexByte(stack, '\n')
		if j < 0 {
			return false
		}
		file := stack[j+1:]
		if k := bytes.IndexByte(file, '\n'); k >= 0 {
			file = file[:k]
		}
		if bytes.Contains(file, panicFile) {
			return true
		}
	}
}

// parse extracts N from a stack beginning with "goroutine N [".
// It returns 0 when the header is malformed.
func parse(stack []byte) uint64 {
	if !bytes.HasPrefix(stack, prefix) {
		return 0
	}
	stack = stack[len(prefix):]
	if i := bytes.IndexByte(stack, ' '); i > 0 {
		stack = stack[:i]
	}
	id, err := strconv.ParseUint(string(stack), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
