// metrics.go is a thin abstraction over Prometheus so that bwtreekv can
// be used with or without metrics. When the caller passes a
// *prometheus.Registry via WithMetrics, we register labeled collectors;
// otherwise a no-op sink is used and the hot path does not pay for metric
// updates.
//
// ┌────────────────────────────────┬───────┐
// │ Metric                         │ Type  │
// ├─────────────────────────────────┼───────┤
// │ bwtreekv_gets_total              │ Ctr   │
// │ bwtreekv_puts_total              │ Ctr   │
// │ bwtreekv_deletes_total           │ Ctr   │
// │ bwtreekv_again_total             │ Ctr   │
// │ bwtreekv_reconciles_total        │ Gge   │
// │ bwtreekv_consolidations_total    │ Gge   │
// │ bwtreekv_splits_total            │ Gge   │
// │ bwtreekv_page_cache_hits_total   │ Gge   │
// │ bwtreekv_page_cache_misses_total │ Gge   │
// │ bwtreekv_page_cache_bytes        │ Gge   │
// └─────────────────────────────────┴───────┘
//
// © 2025 bwtreekv authors. MIT License.
package bwtreekv

import "github.com/prometheus/client_golang/prometheus"

// metricsSink is an internal interface abstracting away the concrete
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incGet()
	incPut()
	incDelete()
	incAgain()
	// setEngineStats mirrors a Stats snapshot (all cumulative counters)
	// into the registered collectors.
	setEngineStats(st Stats)
}

type noopMetrics struct{}

func (noopMetrics) incGet()                {}
func (noopMetrics) incPut()                {}
func (noopMetrics) incDelete()             {}
func (noopMetrics) incAgain()              {}
func (noopMetrics) setEngineStats(Stats)   {}

type promMetrics struct {
	gets           prometheus.Counter
	puts           prometheus.Counter
	deletes        prometheus.Counter
	agains         prometheus.Counter
	reconciles     prometheus.Gauge
	consolidations prometheus.Gauge
	splits         prometheus.Gauge
	cacheHits      prometheus.Gauge
	cacheMisses    prometheus.Gauge
	cacheBytes     prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwtreekv", Name: "gets_total", Help: "Number of Get calls.",
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwtreekv", Name: "puts_total", Help: "Number of Put calls.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwtreekv", Name: "deletes_total", Help: "Number of Delete calls.",
		}),
		agains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bwtreekv", Name: "again_total", Help: "Number of operation attempts that observed a structural race and retried.",
		}),
		reconciles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "reconciles_total", Help: "Number of parent/root reconciliations performed (cumulative).",
		}),
		consolidations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "consolidations_total", Help: "Number of delta chains consolidated into a base page (cumulative).",
		}),
		splits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "splits_total", Help: "Number of node splits performed (cumulative).",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "page_cache_hits_total", Help: "Disk page cache lookups that hit (cumulative).",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "page_cache_misses_total", Help: "Disk page cache lookups that missed (cumulative).",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bwtreekv", Name: "page_cache_bytes", Help: "Live bytes held in the disk page cache.",
		}),
	}
	reg.MustRegister(
		pm.gets, pm.puts, pm.deletes, pm.agains, pm.reconciles,
		pm.consolidations, pm.splits, pm.cacheHits, pm.cacheMisses, pm.cacheBytes,
	)
	return pm
}

func (m *promMetrics) incGet()    { m.gets.Inc() }
func (m *promMetrics) incPut()    { m.puts.Inc() }
func (m *promMetrics) incDelete() { m.deletes.Inc() }
func (m *promMetrics) incAgain()  { m.agains.Inc() }

func (m *promMetrics) setEngineStats(st Stats) {
	m.reconciles.Set(float64(st.NumReconciles))
	m.consolidations.Set(float64(st.NumConsolidations))
	m.splits.Set(float64(st.NumDataSplits + st.NumIndexSplits))
	m.cacheHits.Set(float64(st.CacheHits))
	m.cacheMisses.Set(float64(st.CacheMisses))
	m.cacheBytes.Set(float64(st.CacheUsageBytes))
}

// newMetricsSink decides which implementation to use.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
