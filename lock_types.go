package pinnedsync

// Kind is the kind of a registered primitive.
type Kind int

const (
	KindMutex Kind = iota
	KindRWLock
	KindBarrier
)

func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "Mutex"
	case KindRWLock:
		return "RWLock"
	case KindBarrier:
		return "Barrier"
	default:
		return "Unknown"
	}
}

// LockMode is the mode an acquisition holds a primitive in.
type LockMode int

const (
	ReadLock LockMode = iota
	WriteLock
)

// stringer for LockMode
func (lm LockMode) String() string {
	return []string{"ReadLock", "WriteLock"}[lm]
}
