package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
// It also receives the scheduling engine's instrumentation.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	schedulesTotal    *prometheus.CounterVec
	scheduleDuration  *prometheus.HistogramVec
	scheduleSessions  prometheus.Histogram
	advisoryFailures  *prometheus.CounterVec
	conflictsDetected prometheus.Counter
	conflictsResolved prometheus.Counter
	sessionsPersisted *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	advisoryFailureCount uint64
	conflictDetectCount  uint64
	conflictResolveCount uint64
	persistedCount       uint64
	persistFailureCount  uint64

	mu          sync.Mutex
	byGenerator map[string]uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	schedulesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "study_schedules_generated_total",
		Help: "Schedules produced, by the tier that produced them",
	}, []string{"generator"})

	scheduleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "study_schedule_generation_seconds",
		Help:    "Time spent producing one learner schedule",
		Buckets: prometheus.DefBuckets,
	}, []string{"generator"})

	scheduleSessions := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "study_schedule_sessions",
		Help:    "Sessions per generated schedule",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	advisoryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "advisory_failures_total",
		Help: "Advisory responses rejected or failed, by reason",
	}, []string{"reason"})

	conflictsDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "family_conflicts_detected_total",
		Help: "Cross-learner conflicts detected before resolution",
	})

	conflictsResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "family_conflicts_resolved_total",
		Help: "Cross-learner conflicts removed by coordination",
	})

	sessionsPersisted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "study_sessions_persisted_total",
		Help: "Session writes, by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		schedulesTotal, scheduleDuration, scheduleSessions, advisoryFailures, conflictsDetected, conflictsResolved,
		sessionsPersisted, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		schedulesTotal:    schedulesTotal,
		scheduleDuration:  scheduleDuration,
		scheduleSessions:  scheduleSessions,
		advisoryFailures:  advisoryFailures,
		conflictsDetected: conflictsDetected,
		conflictsResolved: conflictsResolved,
		sessionsPersisted: sessionsPersisted,
		byGenerator:       make(map[string]uint64),
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveSchedule counts one learner schedule by producing tier.
func (m *MetricsService) ObserveSchedule(generator string, sessions int, duration time.Duration) {
	if m == nil {
		return
	}
	m.schedulesTotal.WithLabelValues(generator).Inc()
	m.scheduleDuration.WithLabelValues(generator).Observe(duration.Seconds())
	m.scheduleSessions.Observe(float64(sessions))
	m.mu.Lock()
	m.byGenerator[generator]++
	m.mu.Unlock()
}

// ObserveAdvisoryFailure counts a failed or rejected advisory exchange.
func (m *MetricsService) ObserveAdvisoryFailure(reason string) {
	if m == nil {
		return
	}
	m.advisoryFailures.WithLabelValues(reason).Inc()
	atomic.AddUint64(&m.advisoryFailureCount, 1)
}

// ObserveConflicts records one family coordination run.
func (m *MetricsService) ObserveConflicts(detected, resolved int) {
	if m == nil {
		return
	}
	m.conflictsDetected.Add(float64(detected))
	m.conflictsResolved.Add(float64(resolved))
	atomic.AddUint64(&m.conflictDetectCount, uint64(detected))
	atomic.AddUint64(&m.conflictResolveCount, uint64(resolved))
}

// ObserveSessionPersist records the outcome of one session write.
func (m *MetricsService) ObserveSessionPersist(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.sessionsPersisted.WithLabelValues("ok").Inc()
		atomic.AddUint64(&m.persistedCount, 1)
		return
	}
	m.sessionsPersisted.WithLabelValues("failed").Inc()
	atomic.AddUint64(&m.persistFailureCount, 1)
}

// Snapshot returns aggregated metrics for the JSON summary endpoint.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	if m == nil {
		return models.MetricsSnapshot{SchedulesByGenerator: map[string]uint64{}}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	m.mu.Lock()
	byGenerator := make(map[string]uint64, len(m.byGenerator))
	for k, v := range m.byGenerator {
		byGenerator[k] = v
	}
	m.mu.Unlock()

	return models.MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		SchedulesByGenerator:     byGenerator,
		AdvisoryFailures:         atomic.LoadUint64(&m.advisoryFailureCount),
		ConflictsDetected:        atomic.LoadUint64(&m.conflictDetectCount),
		ConflictsResolved:        atomic.LoadUint64(&m.conflictResolveCount),
		SessionsPersisted:        atomic.LoadUint64(&m.persistedCount),
		SessionPersistFailures:   atomic.LoadUint64(&m.persistFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
