// Package metrics exposes a narrow set of Prometheus collectors: indexed
// height, per-store sizes, mempool size, and query latencies. The scrape
// endpoint itself is one line of glue in cmd/klingindexd
// (promhttp.Handler()); this package only owns the collector set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the collectors klingindexd registers once at startup
// and every component updates as it runs.
type Registry struct {
	IndexedHeight  prometheus.Gauge
	ReorgsTotal    prometheus.Counter
	StoreSizeBytes *prometheus.GaugeVec
	MempoolSize    prometheus.Gauge
	MempoolVSize   prometheus.Gauge
	QueryDuration  *prometheus.HistogramVec
	UpstreamErrors *prometheus.CounterVec
}

// New builds a Registry and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		IndexedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingindex",
			Name:      "indexed_height",
			Help:      "Height of the most recently indexed block on the canonical chain.",
		}),
		ReorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingindex",
			Name:      "reorgs_total",
			Help:      "Number of chain reorganizations handled since startup.",
		}),
		StoreSizeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "klingindex",
			Name:      "store_size_bytes",
			Help:      "On-disk size of a logical store, by store name.",
		}, []string{"store"}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingindex",
			Name:      "mempool_size",
			Help:      "Number of transactions currently mirrored from the upstream mempool.",
		}),
		MempoolVSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingindex",
			Name:      "mempool_vsize_bytes",
			Help:      "Total virtual size of transactions currently mirrored from the upstream mempool.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "klingindex",
			Name:      "query_duration_seconds",
			Help:      "Latency of Query facade operations, by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klingindex",
			Name:      "upstream_errors_total",
			Help:      "Upstream JSON-RPC call errors, by method and error kind.",
		}, []string{"method", "kind"}),
	}

	reg.MustRegister(
		r.IndexedHeight,
		r.ReorgsTotal,
		r.StoreSizeBytes,
		r.MempoolSize,
		r.MempoolVSize,
		r.QueryDuration,
		r.UpstreamErrors,
	)
	return r
}

// ObserveQuery records the latency of a Query facade operation. Callers
// use it with defer: `defer metrics.ObserveQuery(reg, "utxo", time.Now())`.
func ObserveQuery(r *Registry, operation string, start time.Time) {
	r.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetStoreSizes updates StoreSizeBytes from a store.Store.Sizes() map,
// keyed by logical store name.
func (r *Registry) SetStoreSizes(sizes map[string]int64) {
	for name, size := range sizes {
		r.StoreSizeBytes.WithLabelValues(name).Set(float64(size))
	}
}

// SetMempool updates MempoolSize/MempoolVSize from a mempool.Pool's
// current BacklogStats.
func (r *Registry) SetMempool(count int, vsizeSum int64) {
	r.MempoolSize.Set(float64(count))
	r.MempoolVSize.Set(float64(vsizeSum))
}
