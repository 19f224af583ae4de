package recdb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered with Options.Registerer, or with a private
// registry when none is given. A registerer can serve only one open DB.
type metrics struct {
	registry prometheus.Gatherer

	txTotal         *prometheus.CounterVec
	txDuration      *prometheus.HistogramVec
	txQueued        prometheus.Gauge
	txOpen          prometheus.Gauge
	cascadeRemovals prometheus.Counter
	sizeBytes       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{}
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, m.registry = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	f := promauto.With(reg)

	m.txTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recdb_transactions_total",
			Help: "Total number of finished transactions",
		},
		[]string{"kind", "result"},
	)
	m.txDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recdb_transaction_duration_seconds",
			Help:    "Duration of transactions in seconds, excluding time spent queued",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)
	m.txQueued = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "recdb_transactions_queued",
			Help: "Number of transactions waiting for their gate",
		},
	)
	m.txOpen = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "recdb_transactions_open",
			Help: "Number of transactions currently running",
		},
	)
	m.cascadeRemovals = f.NewCounter(
		prometheus.CounterOpts{
			Name: "recdb_cascade_removals_total",
			Help: "Total number of records removed by cascades, not counting the records removed directly",
		},
	)
	m.sizeBytes = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "recdb_size_bytes",
			Help: "Database file size in bytes as of the last transaction",
		},
	)
	return m
}

func (m *metrics) recordTx(writable bool, err error, duration time.Duration) {
	kind := "read"
	if writable {
		kind = "write"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.txTotal.WithLabelValues(kind, result).Inc()
	m.txDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
