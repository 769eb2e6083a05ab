// Package metrics exposes Prometheus counters for admission decisions,
// enrichment lookups and the background scans.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "ipguard"

// Recorder methods are safe to call on a nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	geoLookups      *prometheus.CounterVec
	limiterErrors   *prometheus.CounterVec
	anomalyFlags    *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scanFailures    prometheus.Counter
	logsPurged      prometheus.Counter
	recordFailures  prometheus.Counter
	denyListSize    prometheus.Gauge
	denyListReloads *prometheus.CounterVec
	instances       prometheus.Gauge
}

func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = defaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Recorder{registry: reg}

	r.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests evaluated by the admission pipeline, by verdict",
	}, []string{"verdict"})

	r.geoLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_lookups_total",
		Help:      "Geolocation lookups by outcome",
	}, []string{"outcome"})

	r.limiterErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_backend_errors_total",
		Help:      "Rate limiter backend failures, by resulting decision",
	}, []string{"decision"})

	r.anomalyFlags = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_flags_total",
		Help:      "Suspicious IP flags raised by heuristic",
	}, []string{"heuristic"})

	r.scanDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "anomaly_scan_duration_seconds",
		Help:      "Time spent running one anomaly scan",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	r.scanFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_scan_failures_total",
		Help:      "Per-IP upsert failures during anomaly scans",
	})

	r.logsPurged = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_logs_purged_total",
		Help:      "Request log rows removed by retention",
	})

	r.recordFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_log_write_failures_total",
		Help:      "Request log writes that failed",
	})

	r.denyListSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "denylist_entries",
		Help:      "Entries in the active deny-list snapshot",
	})

	r.denyListReloads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "denylist_reloads_total",
		Help:      "Deny-list reloads by result",
	}, []string{"result"})

	r.instances = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_instances",
		Help:      "Instances with a live heartbeat, as last seen by this one",
	})

	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveVerdict(verdict string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(verdict).Inc()
}

func (r *Recorder) ObserveGeoLookup(outcome string) {
	if r == nil {
		return
	}
	r.geoLookups.WithLabelValues(outcome).Inc()
}

func (r *Recorder) LimiterBackendError(failClosed bool) {
	if r == nil {
		return
	}
	decision := "allowed"
	if failClosed {
		decision = "denied"
	}
	r.limiterErrors.WithLabelValues(decision).Inc()
}

func (r *Recorder) AnomalyFlagged(heuristic string) {
	if r == nil {
		return
	}
	r.anomalyFlags.WithLabelValues(heuristic).Inc()
}

func (r *Recorder) ObserveScan(duration time.Duration, failures int) {
	if r == nil {
		return
	}
	r.scanDuration.Observe(duration.Seconds())
	if failures > 0 {
		r.scanFailures.Add(float64(failures))
	}
}

func (r *Recorder) LogsPurged(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.logsPurged.Add(float64(n))
}

func (r *Recorder) RecordFailed() {
	if r == nil {
		return
	}
	r.recordFailures.Inc()
}

func (r *Recorder) SetDenyListSize(n int) {
	if r == nil {
		return
	}
	r.denyListSize.Set(float64(n))
}

func (r *Recorder) DenyListReloaded(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.denyListReloads.WithLabelValues(result).Inc()
}

func (r *Recorder) SetActiveInstances(n int) {
	if r == nil {
		return
	}
	r.instances.Set(float64(n))
}
