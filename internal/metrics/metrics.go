package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "phishguard"

// Metrics holds the prometheus collectors of the analysis engine.
// All methods are safe on a nil receiver.
type Metrics struct {
	analyses        *prometheus.CounterVec
	analysisLatency prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	sharedFlights   prometheus.Counter
	storeErrors     *prometheus.CounterVec
	quotaRejections prometheus.Counter
	quotaFallbacks  prometheus.Counter
	classifications *prometheus.CounterVec
	classifyLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of completed analyses",
		}, []string{"category", "cached", "degraded"}),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent producing a verdict",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Verdict cache lookups by tier and result",
		}, []string{"tier", "result"}),
		sharedFlights: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_shared_flights_total",
			Help:      "Requests that joined an in-flight computation for the same fingerprint",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_store_errors_total",
			Help:      "Second-tier verdict store failures",
		}, []string{"op"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the tenant quota was exhausted",
		}),
		quotaFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_counter_fallbacks_total",
			Help:      "Admissions counted in memory because the shared counter failed",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier invocations by backend and outcome",
		}, []string{"backend", "degraded"}),
		classifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "Classifier backend latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10},
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
	}

	collectors := []prometheus.Collector{
		m.analyses, m.analysisLatency, m.cacheLookups, m.sharedFlights, m.storeErrors,
		m.quotaRejections, m.quotaFallbacks, m.classifications, m.classifyLatency, m.breakerState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveAnalysis records a completed analysis
func (m *Metrics) ObserveAnalysis(category string, cached, degraded bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(category, boolLabel(cached), boolLabel(degraded)).Inc()
	m.analysisLatency.Observe(elapsed.Seconds())
}

// CacheLookup records a hit or miss on a cache tier ("l1" or "l2")
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// SharedFlight records a request that waited on another request's computation
func (m *Metrics) SharedFlight() {
	if m == nil {
		return
	}
	m.sharedFlights.Inc()
}

// StoreError records a failed second-tier store operation
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// QuotaRejected records a rejected admission
func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}

// QuotaFallback records an admission counted by the local fallback counter
func (m *Metrics) QuotaFallback() {
	if m == nil {
		return
	}
	m.quotaFallbacks.Inc()
}

// ObserveClassification records one classifier call
func (m *Metrics) ObserveClassification(backend string, degraded bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(backend, boolLabel(degraded)).Inc()
	m.classifyLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// BreakerState records the current state of a circuit breaker
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
