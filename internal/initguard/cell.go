// Package initguard provides Cell, a value that is allocated in an
// uninitialized state and constructed in place exactly once.
//
// A Cell must not be copied or moved after Init. Cells embedded in a
// package-level variable or in a heap object reached through a pointer
// satisfy this; a Cell that has been copied after Init panics on Get.
package initguard

import (
	"sync/atomic"

	"golang.org/x/xerrors"
)

const (
	uninitialized int32 = iota
	initializing
	initialized
)

var (
	// ErrUninitialized is the panic value of Get on a cell whose Init has
	// not completed.
	ErrUninitialized = xerrors.New("initguard: use of uninitialized value")

	// ErrAlreadyInitialized is the panic value of a second Init.
	ErrAlreadyInitialized = xerrors.New("initguard: value already initialized")

	// ErrMoved is the panic value of Get on a copy of an initialized cell.
	ErrMoved = xerrors.New("initguard: value moved after initialization")
)

// noCopy lets go vet's copylocks check flag copies of a Cell.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Cell holds a T constructed in place by Init. The zero value is an
// uninitialized cell.
type Cell[T any] struct {
	_     noCopy
	state atomic.Int32
	self  *Cell[T]
	value T
}

// Init stores the result of factory. It panics with ErrAlreadyInitialized
// unless the cell is uninitialized.
func (c *Cell[T]) Init(factory func() T) {
	c.InitWith(func(p *T) { *p = factory() })
}

// InitWith runs f on the cell's own storage, for values that must be
// built where they live.
func (c *Cell[T]) InitWith(f func(p *T)) {
	if !c.state.CompareAndSwap(uninitialized, initializing) {
		panic(ErrAlreadyInitialized)
	}
	f(&c.value)
	c.self = c
	// Publishes value and self to every goroutine that observes
	// initialized in Get.
	c.state.Store(initialized)
}

// Get returns the stored value.
func (c *Cell[T]) Get() *T {
	if c.state.Load() != initialized {
		panic(ErrUninitialized)
	}
	if c.self != c {
		panic(ErrMoved)
	}
	return &c.value
}

// Initialized reports whether Init has completed.
func (c *Cell[T]) Initialized() bool {
	return c.state.Load() == initialized
}
