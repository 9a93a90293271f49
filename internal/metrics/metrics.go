// Package metrics exposes the pipeline's counters to Prometheus. The
// collectors poll component snapshots on scrape; nothing on the hot path
// touches Prometheus directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Subthedev/QuantumX-sub000/internal/engine"
	"github.com/Subthedev/QuantumX-sub000/internal/feed"
	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
)

// Metrics owns the registry and the snapshot-backed collectors
type Metrics struct {
	registry *prometheus.Registry
}

// New builds the registry over the pipeline's snapshot sources
func New(eng *engine.Engine, agg *feed.Aggregator, cache *indicators.Cache) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string, value func() float64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "quantumx",
			Name:      name,
			Help:      help,
		}, value))
	}
	gauge := func(name, help string, value func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quantumx",
			Name:      name,
			Help:      help,
		}, value))
	}

	counter("ticks_processed_total", "Ticks accepted into the per-tick pipeline",
		func() float64 { return float64(eng.Counters().TicksProcessed) })
	counter("ticks_dropped_total", "Ticks dropped by per-symbol back-pressure",
		func() float64 { return float64(eng.Counters().TicksDropped) })
	counter("triggers_fired_total", "Significant triggers that reached fan-out",
		func() float64 { return float64(eng.Counters().TriggersFired) })
	counter("noise_dropped_total", "Triggers rejected by the significance filter",
		func() float64 { return float64(eng.Counters().NoiseDropped) })
	counter("signals_generated_total", "Winning signals emitted",
		func() float64 { return float64(eng.Counters().SignalsGenerated) })
	counter("signals_rejected_total", "Fan-outs that produced no winner",
		func() float64 { return float64(eng.Counters().SignalsRejected) })
	counter("signals_unpersisted_total", "Signals emitted despite a failed sink write",
		func() float64 { return float64(eng.Counters().Unpersisted) })

	counter("feed_ticks_total", "Ticks received from all sources",
		func() float64 { return float64(agg.Stats().TotalTicks) })
	counter("feed_duplicates_total", "Ticks removed by the 1s dedup bucket",
		func() float64 { return float64(agg.Stats().Duplicates) })
	gauge("feed_latency_avg_ms", "Rolling average source-to-ingest latency",
		func() float64 { return agg.Stats().AvgLatencyMs })
	gauge("feed_active_sources", "Stream sources currently connected",
		func() float64 { return float64(agg.Stats().ActiveSources) })
	gauge("feed_healthy", "1 when at least one source is connected and ticks are fresh",
		func() float64 {
			if agg.Stats().Healthy {
				return 1
			}
			return 0
		})

	gauge("indicator_cache_hit_rate", "Indicator cache hit rate percent",
		func() float64 { return cache.Stats().HitRate })
	gauge("indicator_cache_entries", "Indicator cache entry count",
		func() float64 { return float64(cache.Stats().Entries) })

	return &Metrics{registry: reg}
}

// Handler returns the scrape endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
