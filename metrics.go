package pinnedsync

import "github.com/prometheus/client_golang/prometheus"

var (
	labels = []string{"lock", "kind"}

	acquisitionsDesc = prometheus.NewDesc("pinnedsync_acquisitions_total",
		"Number of acquisitions of the lock.", labels, nil)
	contentionsDesc = prometheus.NewDesc("pinnedsync_contentions_total",
		"Number of acquisitions that had to block.", labels, nil)
	waitDesc = prometheus.NewDesc("pinnedsync_wait_seconds_total",
		"Time spent waiting to acquire the lock.", labels, nil)
	holdDesc = prometheus.NewDesc("pinnedsync_hold_seconds_total",
		"Time the lock was held.", labels, nil)
	maxHoldDesc = prometheus.NewDesc("pinnedsync_max_hold_seconds",
		"Longest time the lock was held at once.", labels, nil)
	heldDesc = prometheus.NewDesc("pinnedsync_held",
		"Number of guards currently held.", labels, nil)
	waitingDesc = prometheus.NewDesc("pinnedsync_waiting",
		"Number of goroutines currently blocked on the lock.", labels, nil)
	poisonedDesc = prometheus.NewDesc("pinnedsync_poisoned",
		"1 if the lock is poisoned.", labels, nil)
	poisonEventsDesc = prometheus.NewDesc("pinnedsync_poison_events_total",
		"Number of panics that poisoned the lock.", labels, nil)
	roundsDesc = prometheus.NewDesc("pinnedsync_barrier_rounds_total",
		"Number of completed barrier rounds.", labels, nil)
)

// collector exports the statistics of the registered primitives.
type collector struct{}

// NewCollector returns a collector over the primitives registered with
// WithName. Primitives registered after it is created are picked up.
func NewCollector() prometheus.Collector {
	return collector{}
}

// RegisterMetrics registers a collector on r.
func RegisterMetrics(r prometheus.Registerer) error {
	return r.Register(NewCollector())
}

// Describe implements prometheus.Collector.
func (collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- acquisitionsDesc
	ch <- contentionsDesc
	ch <- waitDesc
	ch <- holdDesc
	ch <- maxHoldDesc
	ch <- heldDesc
	ch <- waitingDesc
	ch <- poisonedDesc
	ch <- poisonEventsDesc
	ch <- roundsDesc
}

// Collect implements prometheus.Collector.
func (collector) Collect(ch chan<- prometheus.Metric) {
	for _, in := range globalRegistry.getAll() {
		s := in.snapshot()
		lv := []string{in.name, in.kind.String()}

		poisoned := 0.0
		if in.poisoned() {
			poisoned = 1
		}

		ch <- prometheus.MustNewConstMetric(acquisitionsDesc, prometheus.CounterValue,
			float64(s.Acquisitions), lv...)
		ch <- prometheus.MustNewConstMetric(contentionsDesc, prometheus.CounterValue,
			float64(s.Contentions), lv...)
		ch <- prometheus.MustNewConstMetric(waitDesc, prometheus.CounterValue,
			s.TotalWait.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(holdDesc, prometheus.CounterValue,
			s.TotalHold.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(maxHoldDesc, prometheus.GaugeValue,
			s.MaxHold.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(heldDesc, prometheus.GaugeValue,
			float64(in.held.Load()), lv...)
		ch <- prometheus.MustNewConstMetric(waitingDesc, prometheus.GaugeValue,
			float64(in.waiting.Load()), lv...)
		ch <- prometheus.MustNewConstMetric(poisonedDesc, prometheus.GaugeValue,
			poisoned, lv...)
		ch <- prometheus.MustNewConstMetric(poisonEventsDesc, prometheus.CounterValue,
			float64(s.PoisonEvents), lv...)

		if in.kind == KindBarrier {
			ch <- prometheus.MustNewConstMetric(roundsDesc, prometheus.CounterValue,
				float64(s.Rounds), lv...)
		}
	}
}
