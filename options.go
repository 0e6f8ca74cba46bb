package pinnedsync

import "time"

// Option configures a primitive at initialization.
type Option func(*options)

type options struct {
	name       string
	warnAfter  time.Duration
	maxReaders int64
	kind       Kind
}

// WithName registers the primitive under name in the global registry and
// turns on its statistics and slow-lock warnings. A later primitive with
// the same name replaces the earlier one in the registry.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithWarnAfter overrides Config.WarnAfter for one named primitive.
func WithWarnAfter(d time.Duration) Option {
	return func(o *options) {
		o.warnAfter = d
	}
}

// WithMaxReaders overrides Config.MaxReaders for one RWLock. It has no
// effect on other primitives.
func WithMaxReaders(n int64) Option {
	return func(o *options) {
		o.maxReaders = n
	}
}

func withKind(k Kind) Option {
	return func(o *options) {
		o.kind = k
	}
}

func newOptions(cfg Config, kind Kind, opts []Option) options {
	o := options{
		warnAfter:  cfg.WarnAfter,
		maxReaders: cfg.MaxReaders,
		kind:       kind,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// instrument returns nil for an unnamed primitive.
func (o options) instrument(poisoned func() bool) *instrument {
	if o.name == "" {
		return nil
	}

	in := &instrument{
		name:      o.name,
		kind:      o.kind,
		warnAfter: o.warnAfter,
		poisoned:  poisoned,
	}

	globalRegistry.register(in)

	return in
}
