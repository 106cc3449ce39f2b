// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package vtime

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter publishes the virtual time table's per-fingerprint
// timing estimates, and a GFQ qdisc's per-child scheduling state, as
// Prometheus gauges. It is an ambient, opt-in observability surface: no
// scheduling decision depends on it, and a qdisc that never attaches one
// behaves identically.
//
// Metrics exposed, all namespaced "qdisc_":
//
//  1. vtime_avg_nanos / vtime_best_nanos / vtime_worst_nanos (gauge,
//     label "fingerprint"): the Entry's current average/best/worst
//     execution time estimate.
//  2. vtime_sample_count (gauge, label "fingerprint"): number of samples
//     recorded for that fingerprint.
//  3. gfq_child_queue_depth (gauge, label "child"): a child qdisc's
//     best-effort enqueued-item count.
//  4. gfq_child_virtual_finish_time (gauge, label "child"): a child's
//     last virtual finish time, in the same units the configured
//     execution time model produces.
//
// Registration follows the explicit-registry idiom (no promauto global
// registration) so multiple qdisc instances, each with their own
// PrometheusExporter and registry, can coexist in one process.
type PrometheusExporter struct {
	avgExecTime   *prometheus.GaugeVec
	bestExecTime  *prometheus.GaugeVec
	worstExecTime *prometheus.GaugeVec
	sampleCount   *prometheus.GaugeVec

	childQueueDepth *prometheus.GaugeVec
	childVFT        *prometheus.GaugeVec

	mu      sync.RWMutex
	enabled atomic.Bool
}

// NewPrometheusExporter creates and registers the exporter's metrics
// against registry. If registry is nil, prometheus.DefaultRegisterer is
// used.
func NewPrometheusExporter(registry prometheus.Registerer) *PrometheusExporter {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	e := &PrometheusExporter{
		avgExecTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "vtime_avg_nanos",
			Help:      "Running average execution time estimate, in nanoseconds, per payload fingerprint",
		}, []string{"fingerprint"}),
		bestExecTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "vtime_best_nanos",
			Help:      "Lower alpha-confidence execution time estimate, in nanoseconds, per payload fingerprint",
		}, []string{"fingerprint"}),
		worstExecTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "vtime_worst_nanos",
			Help:      "Upper alpha-confidence execution time estimate, in nanoseconds, per payload fingerprint",
		}, []string{"fingerprint"}),
		sampleCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "vtime_sample_count",
			Help:      "Number of execution time samples recorded per payload fingerprint",
		}, []string{"fingerprint"}),
		childQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "gfq_child_queue_depth",
			Help:      "Best-effort enqueued item count for a GFQ child qdisc",
		}, []string{"child"}),
		childVFT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qdisc",
			Name:      "gfq_child_virtual_finish_time",
			Help:      "Last virtual finish time recorded for a GFQ child qdisc",
		}, []string{"child"}),
	}
	e.enabled.Store(true)
	return e
}

// ObserveEntry publishes fingerprint's current timing estimates.
func (e *PrometheusExporter) ObserveEntry(fingerprint uint64, entry *Entry) {
	if e == nil || !e.enabled.Load() || entry == nil {
		return
	}
	label := strconv.FormatUint(fingerprint, 10)
	e.avgExecTime.WithLabelValues(label).Set(float64(entry.Average()))
	e.bestExecTime.WithLabelValues(label).Set(float64(entry.Best()))
	e.worstExecTime.WithLabelValues(label).Set(float64(entry.Worst()))
	e.sampleCount.WithLabelValues(label).Set(float64(entry.SampleCount()))
}

// ObserveChild publishes a GFQ child's current queue depth and virtual
// finish time.
func (e *PrometheusExporter) ObserveChild(childHandle uint64, queueDepth int, vft int64) {
	if e == nil || !e.enabled.Load() {
		return
	}
	label := strconv.FormatUint(childHandle, 10)
	e.childQueueDepth.WithLabelValues(label).Set(float64(queueDepth))
	e.childVFT.WithLabelValues(label).Set(float64(vft))
}

// Disable stops the exporter from recording further observations without
// unregistering its metrics (useful for tests).
func (e *PrometheusExporter) Disable() { e.enabled.Store(false) }

// Enable re-enables recording after Disable.
func (e *PrometheusExporter) Enable() { e.enabled.Store(true) }
