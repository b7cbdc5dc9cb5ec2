package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/detectors"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			SimilarityThreshold: 0.3,
			ClusterWindow:       30 * time.Minute,
			LinkHalfLife:        30 * time.Minute,
			LinkLookback:        24 * time.Hour,
			MinLinkStrength:     0.2,
			TopK:                3,
			CorroborationBonus:  0.08,
		},
		Detectors: config.DetectorsConfig{
			Timeout:                5 * time.Second,
			LeakSlopeMBPerMin:      10,
			LatencyRatioThreshold:  3.0,
			ErrorRateDeltaPct:      20.0,
			RestartCountThreshold:  3,
			CascadeWindow:          time.Minute,
			CascadeMinEntries:      5,
			ConfidenceCeiling:      0.99,
			CorroborationIncrement: 0.02,
		},
	}
}

// leakIncidentSnapshot reproduces the canonical payment-service incident: a
// release with an unbounded cache, followed by OOM errors and a confirmed
// memory leak on one pod.
func leakIncidentSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Logs: []snapshot.LogRecord{
			{
				ID: "log-1", Timestamp: at(10), Service: "payment-service",
				Level:   "ERROR",
				Message: "java.lang.OutOfMemoryError: Java heap space",
			},
			{
				ID: "log-2", Timestamp: at(12), Service: "payment-service",
				Level:   "ERROR",
				Message: "java.lang.OutOfMemoryError: GC overhead limit exceeded",
			},
		},
		Metrics: snapshot.MetricsSnapshot{
			Services: map[string]snapshot.ServiceMetrics{
				"payment-service": {
					Pods: map[string]snapshot.PodMetrics{
						"pay-pod-9b1e": {
							Status:       "Running",
							RestartCount: 4,
							Memory: snapshot.MemoryMetrics{
								LimitMB: 4096,
								Timeseries: []snapshot.Point{
									{Timestamp: at(0), Value: 1200},
									{Timestamp: at(20), Value: 3100},
								},
								LeakAnalysis: snapshot.LeakAnalysis{
									LeakDetected:        true,
									LeakRateMBPerMin:    95,
									GCOverheadPct:       78,
									EstimatedOOMMinutes: 12,
									SuspectedSource:     "TransactionCache",
								},
							},
						},
					},
				},
			},
		},
		Deployments: []snapshot.DeploymentRecord{
			{
				ID: "dep-1", Timestamp: at(2), Service: "payment-service",
				Version: "v2.14.0", PreviousVersion: "v2.13.1", Type: "deployment",
				Changelog: "Add in-memory transaction cache with unbounded queue",
			},
		},
	}
}

func leakIncidentTask() models.InvestigationTask {
	return models.InvestigationTask{
		AlertID:         "alert-4821",
		AlertSource:     "pagerduty",
		Title:           "payment-service error rate critical",
		AffectedService: "payment-service",
		Severity:        models.SeverityP1,
		Window:          models.TimeRange{Start: at(0), End: at(30)},
	}
}

func TestPipelineLeakIncident(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)

	rep, err := p.Investigate(context.Background(), leakIncidentTask(), leakIncidentSnapshot())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.InvestigationID)
	assert.Equal(t, models.SeverityP1, rep.Severity)
	assert.False(t, rep.Coverage.Partial)
	assert.Contains(t, rep.BlastRadius, "payment-service")

	require.NotEmpty(t, rep.RootCauses)
	top := rep.RootCauses[0]
	assert.Equal(t, 1, top.Rank)
	assert.Contains(t, top.Tags, "memory")
	assert.Equal(t, "dep-1", top.CauseRefID, "the v2.14.0 rollout is the best-linked cause")
	assert.Contains(t, top.Title, "OutOfMemoryError")

	// Log and metrics evidence both support the winning cause.
	assert.GreaterOrEqual(t, len(top.SupportingFindingIDs), 2)

	// The rollout itself appears on the timeline before the first symptom.
	require.NotEmpty(t, rep.Timeline)
	assert.Equal(t, "dep-1", rep.Timeline[0].RefID)

	// Remediation covers every ranked cause with an immediate action.
	immediateFor := map[string]bool{}
	for _, rec := range rep.Remediation {
		if rec.Category == models.RemediationImmediate {
			immediateFor[rec.TargetRootCause] = true
		}
	}
	for _, cause := range rep.RootCauses {
		assert.True(t, immediateFor[cause.ID], "cause %s lacks an immediate action", cause.ID)
	}

	assert.NotEmpty(t, rep.FindingsBySource["logs"])
	assert.NotEmpty(t, rep.FindingsBySource["metrics"])
	assert.NotEmpty(t, rep.Summary)
}

func TestLeakIncidentCausalLinkStrength(t *testing.T) {
	cfg := testConfig()
	snap := leakIncidentSnapshot()
	task := leakIncidentTask()
	ctx := context.Background()

	dets := []detectors.Detector{
		detectors.NewLogDetector(cfg.Detectors, nil),
		detectors.NewMetricsDetector(cfg.Detectors, nil),
		detectors.NewDeployDetector(cfg.Detectors, nil),
	}
	var findings []models.Finding
	for _, d := range dets {
		findings = append(findings, d.Detect(ctx, snap, task)...)
	}
	SortFindings(findings)

	c := NewCorrelator(cfg.Engine, nil)
	clusters := c.Cluster(findings)
	links := c.Link(clusters, BuildTimeline(findings, snap.Deployments))

	var memCluster *models.SymptomCluster
	for i := range clusters {
		for _, tag := range clusters[i].Tags {
			if tag == "jvm" {
				memCluster = &clusters[i]
			}
		}
	}
	require.NotNil(t, memCluster, "expected a memory symptom cluster")

	var link *models.CausalLink
	for i := range links {
		if links[i].CauseRefID != "dep-1" || links[i].ClusterID != memCluster.ID {
			continue
		}
		if link == nil || links[i].Strength > link.Strength {
			link = &links[i]
		}
	}
	require.NotNil(t, link, "the v2.14.0 rollout must link to the memory cluster")
	assert.Equal(t, 8*time.Minute, link.Lag)
	assert.Greater(t, link.Strength, 0.5)
}

func TestPipelineDeterministicAcrossRuns(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)

	first, err := p.Investigate(context.Background(), leakIncidentTask(), leakIncidentSnapshot())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := p.Investigate(context.Background(), leakIncidentTask(), leakIncidentSnapshot())
		require.NoError(t, err)

		require.Len(t, again.RootCauses, len(first.RootCauses))
		for j := range first.RootCauses {
			assert.Equal(t, first.RootCauses[j].Rank, again.RootCauses[j].Rank)
			assert.Equal(t, first.RootCauses[j].Title, again.RootCauses[j].Title)
			assert.Equal(t, first.RootCauses[j].ClusterID, again.RootCauses[j].ClusterID)
			assert.Equal(t, first.RootCauses[j].CauseRefID, again.RootCauses[j].CauseRefID)
			assert.InDelta(t, first.RootCauses[j].Confidence, again.RootCauses[j].Confidence, 1e-9)
		}
		assert.Equal(t, first.Severity, again.Severity)
		assert.Equal(t, first.BlastRadius, again.BlastRadius)
		assert.Equal(t, len(first.Timeline), len(again.Timeline))
	}
}

func TestPipelineRejectsEmptyTask(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)

	_, err := p.Investigate(context.Background(), models.InvestigationTask{}, &snapshot.Snapshot{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyTask)
}

func TestPipelineEmptySnapshotIsValid(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)
	task := models.InvestigationTask{AlertID: "alert-1", AffectedService: "payment-service"}

	rep, err := p.Investigate(context.Background(), task, &snapshot.Snapshot{})
	require.NoError(t, err)

	assert.Empty(t, rep.RootCauses)
	assert.Empty(t, rep.ContributingFactors)
	assert.Contains(t, rep.Summary, "No anomalous findings")
	assert.Equal(t, models.SeverityP4, rep.Severity, "empty task severity falls through to the floor")
}

func TestPipelineDeclaredSeverityWhenNoFindings(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)
	task := models.InvestigationTask{AlertID: "alert-1", AffectedService: "x", Severity: models.SeverityP2}

	rep, err := p.Investigate(context.Background(), task, &snapshot.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityP2, rep.Severity)
}

type slowDetector struct {
	source models.Source
	delay  time.Duration
}

func (d slowDetector) Source() models.Source { return d.source }

func (d slowDetector) Detect(ctx context.Context, snap *snapshot.Snapshot, task models.InvestigationTask) []models.Finding {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
	}
	return []models.Finding{{
		ID: "slow-finding", Source: d.source, Severity: models.SeverityP2,
		Confidence: 0.9, Timestamp: at(5), Tags: []string{"latency"},
	}}
}

func TestPipelineDetectorTimeoutDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.Detectors.Timeout = 20 * time.Millisecond

	dets := []detectors.Detector{
		detectors.NewLogDetector(cfg.Detectors, nil),
		slowDetector{source: models.SourceMetrics, delay: time.Second},
	}
	p := NewPipeline(cfg, dets, nil, nil, nil)

	snap := leakIncidentSnapshot()
	rep, err := p.Investigate(context.Background(), leakIncidentTask(), snap)
	require.NoError(t, err)

	assert.True(t, rep.Coverage.Partial)
	assert.Equal(t, []string{"metrics"}, rep.Coverage.MissingSources)
	assert.Empty(t, rep.FindingsBySource["metrics"], "abandoned detector contributes nothing")
	assert.NotEmpty(t, rep.FindingsBySource["logs"], "surviving domains still analysed")
}

func TestPipelineSkippedRecordsSurfaceInCoverage(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil, nil, nil)
	snap := leakIncidentSnapshot()
	snap.SkippedRecords = 3

	rep, err := p.Investigate(context.Background(), leakIncidentTask(), snap)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Coverage.SkippedRecords)
}
