package node

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type stats struct {
	received  atomic.Uint64
	delivered atomic.Uint64
	forwarded atomic.Uint64
	flooded   atomic.Uint64
	dropped   atomic.Uint64
	exits     atomic.Uint64
}

// metrics exposes the node's counters to Prometheus. Every node has its own
// registry, so several nodes can live in the same process.
type metrics struct {
	registry *prometheus.Registry
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

func newMetrics(n *Node) *metrics {
	labels := prometheus.Labels{"node": strconv.Itoa(int(n.id))}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mailmesh",
			Name:        "records_received_total",
			Help:        "Records taken out of the mailbox, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mailmesh",
			Name:        "sends_dropped_total",
			Help:        "Sends skipped because the neighbor was full or gone.",
			ConstLabels: labels,
		}, []string{"reason"}),
	}

	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "mailmesh",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v.Load()) })
	}

	m.registry.MustRegister(
		m.received,
		m.dropped,
		counter("messages_delivered_total", "TEXT messages delivered to the console.", &n.stats.delivered),
		counter("messages_forwarded_total", "TEXT messages sent directly to their destination.", &n.stats.forwarded),
		counter("messages_flooded_total", "TEXT copies sent while flooding.", &n.stats.flooded),
		counter("exits_sent_total", "EXIT records sent.", &n.stats.exits),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "mailmesh",
			Name:        "neighbors",
			Help:        "Entries in the neighbor table, live or not.",
			ConstLabels: labels,
		}, func() float64 { return float64(n.table.Len()) }),
	)

	return m
}

// Registry returns the Prometheus registry holding the node's metrics.
func (n *Node) Registry() *prometheus.Registry {
	return n.metrics.registry
}
