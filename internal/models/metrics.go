package models

import "time"

// MetricsSnapshot is the JSON view of process instrumentation.
type MetricsSnapshot struct {
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	SchedulesByGenerator     map[string]uint64 `json:"schedules_by_generator"`
	AdvisoryFailures         uint64            `json:"advisory_failures"`
	ConflictsDetected        uint64            `json:"conflicts_detected"`
	ConflictsResolved        uint64            `json:"conflicts_resolved"`
	SessionsPersisted        uint64            `json:"sessions_persisted"`
	SessionPersistFailures   uint64            `json:"session_persist_failures"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
