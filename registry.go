// registry.go keeps track of all named primitives
package pinnedsync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// Global registry of all named primitives
	globalRegistry = &registry{
		entries: make(map[string]*instrument),
	}
)

type registry struct {
	sync.RWMutex
	entries map[string]*instrument
}

// register adds a primitive to the global registry
func (r *registry) register(in *instrument) {
	r.Lock()
	defer r.Unlock()

	if _, found := r.entries[in.name]; found {
		Logger().Debug().Str("lock", in.name).Msg("replacing registered lock")
	}
	r.entries[in.name] = in
}

// unregister removes a primitive, unless the name has since been taken
// by another one.
func (r *registry) unregister(in *instrument) {
	r.Lock()
	defer r.Unlock()

	if r.entries[in.name] == in {
		delete(r.entries, in.name)
	}
}

// getAll returns the registered primitives sorted by name
func (r *registry) getAll() []*instrument {
	r.RLock()
	defer r.RUnlock()

	all := make([]*instrument, 0, len(r.entries))
	for _, in := range r.entries {
		all = append(all, in)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].name < all[j].name
	})

	return all
}

// Registered returns the names of the registered primitives, sorted.
func Registered() []string {
	all := globalRegistry.getAll()

	names := make([]string, len(all))
	for i, in := range all {
		names[i] = in.name
	}

	return names
}

// LockFilter selects the primitives DumpAllLockInfo reports.
type LockFilter uint8

const (
	ShowPoisoned LockFilter = 1 << iota
	ShowContended
	ShowHeld
	ShowWaiting
)

// ShowAll combines every filter.
const ShowAll = ShowPoisoned | ShowContended | ShowHeld | ShowWaiting

// DumpAllLockInfo describes the registered primitives. A primitive is
// listed when it matches any of the filters; no filter means all of them.
func DumpAllLockInfo(filters ...LockFilter) string {
	var output strings.Builder
	all := globalRegistry.getAll()

	// Combine all filters
	var combinedFilter LockFilter
	if len(filters) == 0 {
		combinedFilter = ShowAll
	} else {
		for _, f := range filters {
			combinedFilter |= f
		}
	}

	output.WriteString("=== pinnedsync Global Status ===\n\n")
	output.WriteString(fmt.Sprintf("Total Registered Locks: %d\n", len(all)))
	output.WriteString(fmt.Sprintf("Active Filters: %s\n\n", describeFilters(combinedFilter)))

	for _, in := range all {
		if !matches(in, combinedFilter) {
			continue
		}

		s := in.snapshot()

		output.WriteString(fmt.Sprintf("• %s (%s):\n", in.name, in.kind))
		output.WriteString(fmt.Sprintf("  Held: %d, Waiting: %d, Poisoned: %t\n",
			in.held.Load(), in.waiting.Load(), in.poisoned()))
		output.WriteString(fmt.Sprintf("  Acquisitions: %d, Contentions: %d\n",
			s.Acquisitions, s.Contentions))
		output.WriteString(fmt.Sprintf("  Avg hold: %v, Max hold: %v, Max wait: %v\n",
			s.AvgHold(), s.MaxHold, s.MaxWait))
		if in.kind == KindBarrier {
			output.WriteString(fmt.Sprintf("  Rounds: %d\n", s.Rounds))
		}
		if s.PoisonEvents > 0 {
			output.WriteString(fmt.Sprintf("  Poison events: %d\n", s.PoisonEvents))
			if stack := in.lastPoison.Load(); stack != nil {
				output.WriteString("  Last poisoned at:\n")
				output.WriteString(indent(*stack, "    "))
				output.WriteString("\n")
			}
		}
	}

	return output.String()
}

func matches(in *instrument, filter LockFilter) bool {
	return (filter&ShowPoisoned != 0 && in.poisoned()) ||
		(filter&ShowContended != 0 && in.stats.contentions.Load() > 0) ||
		(filter&ShowHeld != 0 && in.held.Load() > 0) ||
		(filter&ShowWaiting != 0 && in.waiting.Load() > 0) ||
		filter == ShowAll
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = prefix + strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// Helper function to describe active filters for output
func describeFilters(filter LockFilter) string {
	if filter == 0 {
		return "None"
	}

	var filters []string
	if filter&ShowPoisoned != 0 {
		filters = append(filters, "Poisoned")
	}
	if filter&ShowContended != 0 {
		filters = append(filters, "Contended")
	}
	if filter&ShowHeld != 0 {
		filters = append(filters, "Held")
	}
	if filter&ShowWaiting != 0 {
		filters = append(filters, "Waiting")
	}
	return strings.Join(filters, ", ")
}
