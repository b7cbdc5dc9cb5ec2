package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

// MetricsDetector examines per-service infrastructure metrics for memory
// leaks, latency degradation, error-rate spikes, connection-pool saturation,
// pathological queries, and pod instability. Each entity yields at most one
// finding per category.
type MetricsDetector struct {
	cfg    config.DetectorsConfig
	logger *slog.Logger
}

// NewMetricsDetector builds a metrics detector.
func NewMetricsDetector(cfg config.DetectorsConfig, logger *slog.Logger) *MetricsDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsDetector{cfg: cfg, logger: logger}
}

func (d *MetricsDetector) Source() models.Source { return models.SourceMetrics }

// Detect walks services in sorted order so the finding stream is
// deterministic for identical snapshots.
func (d *MetricsDetector) Detect(ctx context.Context, snap *snapshot.Snapshot, task models.InvestigationTask) []models.Finding {
	names := make([]string, 0, len(snap.Metrics.Services))
	for name := range snap.Metrics.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []models.Finding
	for _, name := range names {
		if ctx.Err() != nil {
			return findings
		}
		svc := snap.Metrics.Services[name]
		findings = append(findings, d.inspectService(name, svc, snap.Metrics)...)
	}

	d.logger.Debug("metrics detection complete",
		"services", len(names),
		"findings", len(findings),
	)
	return findings
}

func (d *MetricsDetector) inspectService(name string, svc snapshot.ServiceMetrics, all snapshot.MetricsSnapshot) []models.Finding {
	var findings []models.Finding

	podNames := make([]string, 0, len(svc.Pods))
	for pod := range svc.Pods {
		podNames = append(podNames, pod)
	}
	sort.Strings(podNames)

	for _, pod := range podNames {
		pm := svc.Pods[pod]
		if f, ok := d.detectMemoryLeak(name, pod, pm); ok {
			findings = append(findings, f)
		}
		if f, ok := d.detectPodInstability(name, pod, pm, all); ok {
			findings = append(findings, f)
		}
	}

	if f, ok := d.detectLatencyDegradation(name, svc.Latency); ok {
		findings = append(findings, f)
	}
	if f, ok := d.detectErrorRateSpike(name, svc.ErrorRate); ok {
		findings = append(findings, f)
	}
	if f, ok := d.detectPoolSaturation(name, svc); ok {
		findings = append(findings, f)
	}
	if f, ok := d.detectMissingIndex(name, svc); ok {
		findings = append(findings, f)
	}

	return findings
}

// detectMemoryLeak prefers the collector-side leak analysis when present and
// falls back to a least-squares slope over the raw memory series.
func (d *MetricsDetector) detectMemoryLeak(service, pod string, pm snapshot.PodMetrics) (models.Finding, bool) {
	la := pm.Memory.LeakAnalysis
	rate := la.LeakRateMBPerMin
	detected := la.LeakDetected
	if !detected {
		rate = slopeMBPerMin(pm.Memory.Timeseries)
		detected = rate >= d.cfg.LeakSlopeMBPerMin
	}
	if !detected || rate < d.cfg.LeakSlopeMBPerMin {
		return models.Finding{}, false
	}

	severity := models.SeverityP2
	conf := 0.88
	if rate >= 2*d.cfg.LeakSlopeMBPerMin || (la.EstimatedOOMMinutes > 0 && la.EstimatedOOMMinutes <= 30) {
		severity = models.SeverityP1
		conf = 0.92
	}
	if la.GCOverheadPct >= 50 {
		conf += d.cfg.CorroborationIncrement
	}
	if pm.RestartCount >= d.cfg.RestartCountThreshold {
		conf += d.cfg.CorroborationIncrement
	}
	if d.cfg.ConfidenceCeiling > 0 && conf > d.cfg.ConfidenceCeiling {
		conf = d.cfg.ConfidenceCeiling
	}

	evidence := map[string]any{
		"pod":                  pod,
		"leak_rate_mb_per_min": rate,
		"gc_overhead_pct":      la.GCOverheadPct,
		"restart_count":        pm.RestartCount,
	}
	if la.EstimatedOOMMinutes > 0 {
		evidence["estimated_oom_minutes"] = la.EstimatedOOMMinutes
	}
	if la.SuspectedSource != "" {
		evidence["suspected_source"] = la.SuspectedSource
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Memory leak in %s", pod),
		Severity: severity,
		Description: fmt.Sprintf(
			"Pod %s of %s is leaking %.0f MB/min with %.0f%% GC overhead",
			pod, service, rate, la.GCOverheadPct,
		),
		Confidence: clamp01(conf),
		Timestamp:  lastPointTime(pm.Memory.Timeseries),
		Evidence:   evidence,
		Tags:       normalizeTags([]string{"memory", "jvm"}),
		Services:   []string{service},
	}, true
}

func (d *MetricsDetector) detectPodInstability(service, pod string, pm snapshot.PodMetrics, all snapshot.MetricsSnapshot) (models.Finding, bool) {
	crashing := false
	switch pm.Status {
	case "CrashLoopBackOff", "OOMKilled", "Error":
		crashing = true
	}
	if !crashing && pm.RestartCount < d.cfg.RestartCountThreshold {
		return models.Finding{}, false
	}

	severity := models.SeverityP2
	conf := 0.85
	if crashing {
		severity = models.SeverityP1
		conf = 0.9
	}

	evidence := map[string]any{
		"pod":           pod,
		"status":        pm.Status,
		"restart_count": pm.RestartCount,
	}
	// A gateway's upstream view of this service corroborates the blast radius.
	if uh, ok := upstreamView(all, service); ok {
		evidence["upstream_healthy_pct"] = uh.HealthyPct
		evidence["circuit_state"] = uh.CircuitState
		conf += d.cfg.CorroborationIncrement
	}
	if d.cfg.ConfidenceCeiling > 0 && conf > d.cfg.ConfidenceCeiling {
		conf = d.cfg.ConfidenceCeiling
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Pod instability: %s", pod),
		Severity: severity,
		Description: fmt.Sprintf(
			"Pod %s of %s is %s with %d restarts",
			pod, service, orUnknown(pm.Status), pm.RestartCount,
		),
		Confidence: clamp01(conf),
		Timestamp:  lastPointTime(pm.Memory.Timeseries),
		Evidence:   evidence,
		Tags:       normalizeTags([]string{"instability", "capacity"}),
		Services:   []string{service},
	}, true
}

func (d *MetricsDetector) detectLatencyDegradation(service string, series snapshot.LatencySeries) (models.Finding, bool) {
	ts := series.Timeseries
	if len(ts) < 2 {
		return models.Finding{}, false
	}
	baseline := ts[0].P99
	if baseline <= 0 {
		return models.Finding{}, false
	}
	peak := ts[0]
	for _, p := range ts[1:] {
		if p.P99 > peak.P99 {
			peak = p
		}
	}
	ratio := peak.P99 / baseline
	if ratio < d.cfg.LatencyRatioThreshold {
		return models.Finding{}, false
	}

	severity := models.SeverityP2
	if ratio >= 10 {
		severity = models.SeverityP1
	}
	conf := 0.85
	if ratio >= 2*d.cfg.LatencyRatioThreshold {
		conf = 0.9
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Latency degradation in %s", service),
		Severity: severity,
		Description: fmt.Sprintf(
			"P99 latency rose from %.0fms to %.0fms (%.1fx)",
			baseline, peak.P99, ratio,
		),
		Confidence: conf,
		Timestamp:  peak.Timestamp,
		Evidence: map[string]any{
			"baseline_p99_ms": baseline,
			"peak_p99_ms":     peak.P99,
			"ratio":           ratio,
		},
		Tags:     normalizeTags([]string{"latency"}),
		Services: []string{service},
	}, true
}

func (d *MetricsDetector) detectErrorRateSpike(service string, series snapshot.ValueSeries) (models.Finding, bool) {
	ts := series.Timeseries
	if len(ts) < 2 {
		return models.Finding{}, false
	}
	baseline := ts[0].Value
	peak := ts[0]
	for _, p := range ts[1:] {
		if p.Value > peak.Value {
			peak = p
		}
	}
	delta := peak.Value - baseline
	if delta < d.cfg.ErrorRateDeltaPct {
		return models.Finding{}, false
	}

	severity := models.SeverityP2
	if delta >= 50 {
		severity = models.SeverityP1
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Error-rate spike in %s", service),
		Severity: severity,
		Description: fmt.Sprintf(
			"Error rate climbed from %.1f%% to %.1f%%",
			baseline, peak.Value,
		),
		Confidence: 0.88,
		Timestamp:  peak.Timestamp,
		Evidence: map[string]any{
			"baseline_pct": baseline,
			"peak_pct":     peak.Value,
			"delta_pct":    delta,
		},
		Tags:     normalizeTags([]string{"errors"}),
		Services: []string{service},
	}, true
}

func (d *MetricsDetector) detectPoolSaturation(service string, svc snapshot.ServiceMetrics) (models.Finding, bool) {
	pool := svc.Database.ConnectionPool
	if pool == nil || pool.MaxSize == 0 || pool.Active < pool.MaxSize {
		return models.Finding{}, false
	}

	conf := 0.9
	if pool.Pending > 0 {
		conf += d.cfg.CorroborationIncrement
	}
	if d.cfg.ConfidenceCeiling > 0 && conf > d.cfg.ConfidenceCeiling {
		conf = d.cfg.ConfidenceCeiling
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Connection pool saturated in %s", service),
		Severity: models.SeverityP1,
		Description: fmt.Sprintf(
			"Pool at %d/%d with %d requests pending (avg checkout %.0fms)",
			pool.Active, pool.MaxSize, pool.Pending, pool.AvgCheckoutTimeMs,
		),
		Confidence: clamp01(conf),
		Timestamp:  lastLatencyTime(svc.Latency),
		Evidence: map[string]any{
			"active":               pool.Active,
			"max_size":             pool.MaxSize,
			"pending":              pool.Pending,
			"avg_checkout_time_ms": pool.AvgCheckoutTimeMs,
		},
		Tags:     normalizeTags([]string{"database", "capacity"}),
		Services: []string{service},
	}, true
}

// detectMissingIndex reports the worst slow query that names a missing
// index. One finding per service keeps the stream compact.
func (d *MetricsDetector) detectMissingIndex(service string, svc snapshot.ServiceMetrics) (models.Finding, bool) {
	var worst *snapshot.SlowQuery
	for i := range svc.Database.SlowQueries {
		q := &svc.Database.SlowQueries[i]
		if q.MissingIndex == "" {
			continue
		}
		if worst == nil || q.ExecutionTimeMs > worst.ExecutionTimeMs {
			worst = q
		}
	}
	if worst == nil {
		return models.Finding{}, false
	}

	return models.Finding{
		ID:       newFindingID(),
		Source:   models.SourceMetrics,
		Title:    fmt.Sprintf("Unindexed query on %s.%s", service, worst.Table),
		Severity: models.SeverityP2,
		Description: fmt.Sprintf(
			"Query on %s scans %d rows in %dms; missing index %s",
			worst.Table, worst.RowsScanned, worst.ExecutionTimeMs, worst.MissingIndex,
		),
		Confidence: 0.93,
		Timestamp:  lastLatencyTime(svc.Latency),
		Evidence: map[string]any{
			"table":             worst.Table,
			"execution_time_ms": worst.ExecutionTimeMs,
			"rows_scanned":      worst.RowsScanned,
			"missing_index":     worst.MissingIndex,
		},
		Tags:     normalizeTags([]string{"database", "latency"}),
		Services: []string{service},
	}, true
}

// slopeMBPerMin computes a least-squares slope over a memory series,
// converted to MB per minute.
func slopeMBPerMin(points []snapshot.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	t0 := points[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Minutes()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func lastPointTime(points []snapshot.Point) time.Time {
	if len(points) == 0 {
		return time.Time{}
	}
	return points[len(points)-1].Timestamp
}

func lastLatencyTime(series snapshot.LatencySeries) time.Time {
	if len(series.Timeseries) == 0 {
		return time.Time{}
	}
	return series.Timeseries[len(series.Timeseries)-1].Timestamp
}

// upstreamView finds another service's upstream-health entry for target.
func upstreamView(all snapshot.MetricsSnapshot, target string) (snapshot.UpstreamHealth, bool) {
	names := make([]string, 0, len(all.Services))
	for name := range all.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == target {
			continue
		}
		if uh, ok := all.Services[name].UpstreamHealth[target]; ok {
			return uh, true
		}
	}
	return snapshot.UpstreamHealth{}, false
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unstable"
	}
	return s
}
