// Package metrics exports engine activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/gostm/internal/stm/engine"
)

const namespace = "gostm"

// Source is anything that can report engine statistics. *engine.Engine
// satisfies it.
type Source interface {
	Stats() engine.Stats
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(engine.Stats) float64
}

// Collector is a prometheus.Collector over an engine's Stats snapshot.
// Every scrape takes one snapshot.
type Collector struct {
	src      Source
	counters []counterDesc
	gauges   []counterDesc
	aborts   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func newDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

// NewCollector returns a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		counters: []counterDesc{
			{newDesc("transactions_started_total", "Atomically and AtomicallyReadOnly calls."),
				func(s engine.Stats) float64 { return float64(s.Starts) }},
			{newDesc("commits_total", "Committed transactions."),
				func(s engine.Stats) float64 { return float64(s.Commits) }},
			{newDesc("read_only_commits_total", "Transactions committed in read-only mode."),
				func(s engine.Stats) float64 { return float64(s.ReadOnlyCommits) }},
			{newDesc("retries_total", "Attempts re-run after an abort."),
				func(s engine.Stats) float64 { return float64(s.Retries) }},
			{newDesc("allocs_total", "Transactional allocations."),
				func(s engine.Stats) float64 { return float64(s.Allocs) }},
			{newDesc("frees_total", "Committed transactional frees."),
				func(s engine.Stats) float64 { return float64(s.Frees) }},
			{newDesc("rolled_back_allocs_total", "Allocations released by an abort."),
				func(s engine.Stats) float64 { return float64(s.RolledBackAllocs) }},
			{newDesc("fault_conflicts_total", "Heap faults converted into conflict aborts."),
				func(s engine.Stats) float64 { return float64(s.FaultConflicts) }},
			{newDesc("genuine_faults_total", "Heap faults reported as use-after-free or wild access."),
				func(s engine.Stats) float64 { return float64(s.GenuineFaults) }},
		},
		gauges: []counterDesc{
			{newDesc("clock", "Global version clock."),
				func(s engine.Stats) float64 { return float64(s.Clock) }},
			{newDesc("goroutines", "Registered transaction contexts."),
				func(s engine.Stats) float64 { return float64(s.Goroutines) }},
			{newDesc("heap_capacity_words", "Heap capacity in words."),
				func(s engine.Stats) float64 { return float64(s.Heap.Capacity) }},
			{newDesc("heap_high_water_words", "Heap cells ever handed out."),
				func(s engine.Stats) float64 { return float64(s.Heap.HighWater) }},
			{newDesc("heap_live_objects", "Objects currently allocated."),
				func(s engine.Stats) float64 { return float64(s.Heap.LiveObjects) }},
			{newDesc("heap_live_words", "Payload words currently allocated."),
				func(s engine.Stats) float64 { return float64(s.Heap.LiveWords) }},
			{newDesc("heap_free_blocks", "Released blocks waiting for reuse."),
				func(s engine.Stats) float64 { return float64(s.Heap.FreeBlocks) }},
		},
		aborts: newDesc("aborts_total", "Aborted transaction attempts.", "reason"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.gauges {
		ch <- d.desc
	}
	ch <- c.aborts
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, d.value(s))
	}
	for _, d := range c.gauges {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, d.value(s))
	}
	for _, r := range engine.Reasons() {
		ch <- prometheus.MustNewConstMetric(c.aborts, prometheus.CounterValue, float64(s.Aborts[r]), r.String())
	}
}

// OpDuration is the latency of benchmark operations, one transaction each.
var OpDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bench",
		Name:      "op_duration_seconds",
		Help:      "Bucketed histogram of benchmark operation latency.",
		Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
	}, []string{"op"})

// Register registers a collector for src and the benchmark histograms with
// reg.
func Register(reg prometheus.Registerer, src Source) error {
	if err := reg.Register(NewCollector(src)); err != nil {
		return err
	}
	return reg.Register(OpDuration)
}
