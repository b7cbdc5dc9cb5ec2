package snapshot

import "time"

// Snapshot is the closed evidence set for a single incident investigation:
// application logs, infrastructure metrics, and deployment history, already
// normalized. The engine never ingests new data mid-run.
type Snapshot struct {
	Logs        []LogRecord
	Metrics     MetricsSnapshot
	Deployments []DeploymentRecord

	// SkippedRecords counts malformed raw records dropped during loading.
	SkippedRecords int
}

// LogRecord is a single normalized application log entry.
type LogRecord struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StackTrace []string       `json:"stack_trace,omitempty"`
}

// MetricsSnapshot holds per-service aggregate metrics.
type MetricsSnapshot struct {
	Services map[string]ServiceMetrics `json:"services"`
}

// ServiceMetrics bundles the metric families collected for one service.
type ServiceMetrics struct {
	Pods           map[string]PodMetrics     `json:"pods,omitempty"`
	Latency        LatencySeries             `json:"latency"`
	ErrorRate      ValueSeries               `json:"error_rate"`
	Database       DatabaseMetrics           `json:"database"`
	UpstreamHealth map[string]UpstreamHealth `json:"upstream_health,omitempty"`
}

// PodMetrics captures the health of a single pod.
type PodMetrics struct {
	Status       string        `json:"status"`
	RestartCount int           `json:"restart_count"`
	Memory       MemoryMetrics `json:"memory"`
}

// MemoryMetrics holds the memory time-series and precomputed leak analysis
// for a pod.
type MemoryMetrics struct {
	LimitMB      float64      `json:"limit_mb,omitempty"`
	Timeseries   []Point      `json:"timeseries,omitempty"`
	LeakAnalysis LeakAnalysis `json:"leak_analysis"`
}

// LeakAnalysis is the collector-side leak summary shipped with the snapshot.
type LeakAnalysis struct {
	LeakDetected        bool    `json:"leak_detected"`
	LeakRateMBPerMin    float64 `json:"leak_rate_mb_per_min"`
	GCOverheadPct       float64 `json:"gc_overhead_pct"`
	EstimatedOOMMinutes float64 `json:"estimated_oom_minutes"`
	SuspectedSource     string  `json:"suspected_source,omitempty"`
}

// Point is a timestamped metric sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LatencyPoint is a timestamped P99 latency sample in milliseconds.
type LatencyPoint struct {
	Timestamp time.Time `json:"timestamp"`
	P99       float64   `json:"p99"`
}

// LatencySeries wraps a latency time-series.
type LatencySeries struct {
	Timeseries []LatencyPoint `json:"timeseries,omitempty"`
}

// ValueSeries wraps a generic value time-series (e.g. error-rate percent).
type ValueSeries struct {
	Timeseries []Point `json:"timeseries,omitempty"`
}

// DatabaseMetrics carries connection-pool state and observed slow queries.
type DatabaseMetrics struct {
	ConnectionPool *ConnectionPool `json:"connection_pool,omitempty"`
	SlowQueries    []SlowQuery     `json:"slow_queries,omitempty"`
}

// ConnectionPool describes pool occupancy at snapshot time.
type ConnectionPool struct {
	Active            int     `json:"active"`
	MaxSize           int     `json:"max_size"`
	Pending           int     `json:"pending"`
	AvgCheckoutTimeMs float64 `json:"avg_checkout_time_ms"`
}

// SlowQuery is a query the database flagged as pathological.
type SlowQuery struct {
	Table           string `json:"table"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	RowsScanned     int64  `json:"rows_scanned"`
	MissingIndex    string `json:"missing_index,omitempty"`
}

// UpstreamHealth is the gateway's view of a downstream service.
type UpstreamHealth struct {
	HealthyPct   float64 `json:"healthy_pct"`
	CircuitState string  `json:"circuit_state"`
}

// DeploymentRecord is one entry of the deployment/change history.
type DeploymentRecord struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Service         string        `json:"service"`
	Version         string        `json:"version,omitempty"`
	PreviousVersion string        `json:"previous_version,omitempty"`
	Type            string        `json:"type"`
	Changelog       string        `json:"changelog,omitempty"`
	ConfigDeltas    []ConfigDelta `json:"config_deltas,omitempty"`
}

// ConfigDelta records a single configuration value change.
type ConfigDelta struct {
	Key string `json:"key"`
	Old string `json:"old"`
	New string `json:"new"`
}

// IsConfigChange reports whether the record represents a configuration or
// infrastructure change rather than a code rollout.
func (d DeploymentRecord) IsConfigChange() bool {
	switch d.Type {
	case "config_change", "maintenance", "infra_change":
		return true
	}
	return false
}
