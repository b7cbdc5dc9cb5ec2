package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the engine's Prometheus instruments. Registration is
// idempotent so tests and repeated wiring do not panic on duplicates.
type Collector struct {
	investigationsTotal  *prometheus.CounterVec
	investigationSeconds prometheus.Histogram
	findingsTotal        *prometheus.CounterVec
	detectorTimeouts     prometheus.Counter
	stageSeconds         *prometheus.HistogramVec
	cacheHits            prometheus.Counter
}

// NewCollector builds the instrument set.
func NewCollector() *Collector {
	return &Collector{
		investigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_rca_investigations_total",
			Help: "Completed investigations by outcome.",
		}, []string{"outcome"}),
		investigationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sleuth_rca_investigation_seconds",
			Help:    "End-to-end investigation duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_rca_findings_total",
			Help: "Findings emitted per evidence source.",
		}, []string{"source"}),
		detectorTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_rca_detector_timeouts_total",
			Help: "Detectors abandoned for exceeding their time budget.",
		}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sleuth_rca_stage_seconds",
			Help:    "Per-stage pipeline duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"stage"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_rca_cache_hits_total",
			Help: "Investigations served from cache.",
		}),
	}
}

// Register registers every instrument with the registry, tolerating
// already-registered duplicates.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.investigationsTotal,
		c.investigationSeconds,
		c.findingsTotal,
		c.detectorTimeouts,
		c.stageSeconds,
		c.cacheHits,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInvestigation records one finished investigation.
func (c *Collector) ObserveInvestigation(outcome string, d time.Duration) {
	c.investigationsTotal.WithLabelValues(outcome).Inc()
	c.investigationSeconds.Observe(d.Seconds())
}

// ObserveFindings counts findings for a source.
func (c *Collector) ObserveFindings(source string, n int) {
	if n <= 0 {
		return
	}
	c.findingsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveStage records a pipeline stage duration.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// DetectorTimedOut counts an abandoned detector.
func (c *Collector) DetectorTimedOut() {
	c.detectorTimeouts.Inc()
}

// CacheHit counts an investigation served from cache.
func (c *Collector) CacheHit() {
	c.cacheHits.Inc()
}
