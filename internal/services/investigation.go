package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/incidentstack/sleuth-rca/internal/cache"
	"github.com/incidentstack/sleuth-rca/internal/engine"
	"github.com/incidentstack/sleuth-rca/internal/metrics"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// InvestigationService fronts the pipeline with result caching and
// operational telemetry. Repeated investigations of the same alert within
// the cache TTL return the stored report without re-running analysis.
type InvestigationService struct {
	pipeline  *engine.Pipeline
	cache     cache.Provider
	cacheTTL  time.Duration
	collector *metrics.Collector
	latency   *utils.LatencyTracker
	logger    *slog.Logger
}

// NewInvestigationService wires the service. A nil cache disables caching;
// a nil collector disables telemetry.
func NewInvestigationService(pipeline *engine.Pipeline, provider cache.Provider, ttl time.Duration, collector *metrics.Collector, logger *slog.Logger) *InvestigationService {
	if provider == nil {
		provider = cache.NewNoopProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InvestigationService{
		pipeline:  pipeline,
		cache:     provider,
		cacheTTL:  ttl,
		collector: collector,
		latency:   utils.NewLatencyTracker(1024),
		logger:    logger,
	}
}

// Investigate runs or replays an investigation. The boolean reports whether
// the result came from cache.
func (s *InvestigationService) Investigate(ctx context.Context, task models.InvestigationTask, snap *snapshot.Snapshot) (*models.Report, bool, error) {
	key := cacheKey(task)

	if key != "" {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var rep models.Report
			if err := json.Unmarshal(data, &rep); err == nil {
				if s.collector != nil {
					s.collector.CacheHit()
				}
				s.logger.Debug("investigation served from cache", "alert_id", task.AlertID)
				return &rep, true, nil
			}
			// A corrupt entry is dropped and the run proceeds.
			_ = s.cache.Delete(ctx, key)
		}
	}

	start := time.Now()
	rep, err := s.pipeline.Investigate(ctx, task, snap)
	elapsed := time.Since(start)
	s.latency.Observe(elapsed)

	if err != nil {
		if s.collector != nil {
			s.collector.ObserveInvestigation("error", elapsed)
		}
		return nil, false, err
	}

	if s.collector != nil {
		outcome := "success"
		if rep.Coverage.Partial {
			outcome = "partial"
		}
		s.collector.ObserveInvestigation(outcome, elapsed)
		for source, fs := range rep.FindingsBySource {
			s.collector.ObserveFindings(source, len(fs))
		}
		for range rep.Coverage.MissingSources {
			s.collector.DetectorTimedOut()
		}
	}

	if key != "" {
		if data, err := json.Marshal(rep); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				s.logger.Warn("failed to cache report", "error", err)
			}
		}
	}
	return rep, false, nil
}

// P99Latency exposes the recent investigation latency percentile.
func (s *InvestigationService) P99Latency() time.Duration {
	return s.latency.Percentile(99)
}

func cacheKey(task models.InvestigationTask) string {
	if task.AlertID == "" {
		return ""
	}
	return "rca:" + task.AlertID
}

// MetricsObserver adapts the collector to the pipeline's stage callback.
type MetricsObserver struct {
	Collector *metrics.Collector
}

func (o MetricsObserver) StageCompleted(stage string, d time.Duration, items int) {
	if o.Collector != nil {
		o.Collector.ObserveStage(stage, d)
	}
}
