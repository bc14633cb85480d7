package metrics

import (
	"net/http"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Concept/association store metrics
	ConceptsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_concepts_total",
			Help: "Total number of concepts by state",
		},
		[]string{"state"},
	)

	AssociationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_associations_total",
			Help: "Total number of associations by type",
		},
		[]string{"type"},
	)

	// WAL metrics
	WALAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_wal_appends_total",
			Help: "Total number of records appended to the write-ahead log, by shard",
		},
		[]string{"shard"},
	)

	WALDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_wal_dropped_total",
			Help: "Total number of write-log entries dropped due to backpressure, by shard",
		},
		[]string{"shard"},
	)

	WALFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_wal_fsync_seconds",
			Help:    "Time taken to fsync a WAL append in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics (one reconciler per shard, folding the write log
	// into a new read snapshot on an adaptive interval)
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationInterval = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_reconciliation_interval_seconds",
			Help: "Current adaptive reconciliation interval in seconds",
		},
	)

	// Compaction metrics
	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_compaction_duration_seconds",
			Help:    "Time taken for an LSM compaction merge in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"level"},
	)

	SegmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_segments_total",
			Help: "Total number of on-disk segments by level",
		},
		[]string{"level"},
	)

	// HNSW metrics
	HNSWInsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_hnsw_insert_duration_seconds",
			Help:    "Time taken to insert a vector into the HNSW graph in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HNSWSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_hnsw_search_duration_seconds",
			Help:    "Time taken for an HNSW vector search in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Two-phase commit coordinator metrics
	TxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_tx_total",
			Help: "Total number of cross-shard transactions by outcome",
		},
		[]string{"outcome"}, // committed, aborted, timed_out
	)

	TxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_tx_duration_seconds",
			Help:    "Time taken for a two-phase commit transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Façade operation metrics
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_op_duration_seconds",
			Help:    "Time taken for an engine façade operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	OpErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_op_errors_total",
			Help: "Total number of engine façade operation errors by op and error kind",
		},
		[]string{"op", "kind"},
	)
)

func init() {
	prometheus.MustRegister(ConceptsTotal)
	prometheus.MustRegister(AssociationsTotal)
	prometheus.MustRegister(WALAppendsTotal)
	prometheus.MustRegister(WALDroppedTotal)
	prometheus.MustRegister(WALFsyncDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationInterval)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(SegmentsTotal)
	prometheus.MustRegister(HNSWInsertDuration)
	prometheus.MustRegister(HNSWSearchDuration)
	prometheus.MustRegister(TxTotal)
	prometheus.MustRegister(TxDuration)
	prometheus.MustRegister(OpDuration)
	prometheus.MustRegister(OpErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ReadLatencyTracker records read-path latencies in a HdrHistogram rather
// than a Prometheus Summary, since the hot path (get_concept,
// get_neighbours, vector_search) runs far more often than the metrics
// scrape interval and a Summary's per-observation allocation shows up in
// profiles. Snapshot reads the percentiles out and resets the window; no
// Prometheus gauge is fed from this tracker.
type ReadLatencyTracker struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewReadLatencyTracker creates a tracker covering 1 microsecond to 10
// seconds with 3 significant figures of precision.
func NewReadLatencyTracker() *ReadLatencyTracker {
	return &ReadLatencyTracker{
		hist: hdrhistogram.New(1, 10_000_000, 3),
	}
}

// Record adds one observed latency.
func (r *ReadLatencyTracker) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.hist.RecordValue(d.Microseconds())
}

// Snapshot returns the p50/p99/p999 read latencies, in microseconds, and
// resets the underlying histogram so the next window starts clean.
func (r *ReadLatencyTracker) Snapshot() (p50, p99, p999 int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p50 = r.hist.ValueAtQuantile(50)
	p99 = r.hist.ValueAtQuantile(99)
	p999 = r.hist.ValueAtQuantile(99.9)
	r.hist.Reset()
	return
}
