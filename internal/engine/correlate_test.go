package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		SimilarityThreshold: 0.3,
		ClusterWindow:       30 * time.Minute,
		LinkHalfLife:        30 * time.Minute,
		LinkLookback:        24 * time.Hour,
		MinLinkStrength:     0.2,
		TopK:                3,
		CorroborationBonus:  0.08,
	}
}

func at(minute int) time.Time {
	return time.Date(2025, 3, 14, 2, minute, 0, 0, time.UTC)
}

func finding(id string, minute int, source models.Source, sev models.Severity, conf float64, tags ...string) models.Finding {
	return models.Finding{
		ID:         id,
		Source:     source,
		Title:      id,
		Severity:   sev,
		Confidence: conf,
		Timestamp:  at(minute),
		Tags:       tags,
	}
}

func TestClusterGroupsBySimilarity(t *testing.T) {
	findings := []models.Finding{
		finding("f-oom", 10, models.SourceLogs, models.SeverityP1, 0.95, "jvm", "memory"),
		finding("f-leak", 12, models.SourceMetrics, models.SeverityP1, 0.92, "jvm", "memory"),
		finding("f-tls", 14, models.SourceLogs, models.SeverityP2, 0.96, "config", "tls"),
	}
	SortFindings(findings)

	c := NewCorrelator(testEngineConfig(), nil)
	clusters := c.Cluster(findings)

	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"f-oom", "f-leak"}, clusters[0].FindingIDs())
	assert.Equal(t, []string{"f-tls"}, clusters[1].FindingIDs())
	assert.Equal(t, "cluster-01", clusters[0].ID)
	assert.Equal(t, []string{"jvm", "memory"}, clusters[0].Tags)
}

func TestClusterPartitionsEveryFinding(t *testing.T) {
	findings := []models.Finding{
		finding("a", 0, models.SourceLogs, models.SeverityP2, 0.9, "memory"),
		finding("b", 1, models.SourceMetrics, models.SeverityP2, 0.9, "latency"),
		finding("c", 2, models.SourceLogs, models.SeverityP2, 0.9, "database"),
		finding("d", 3, models.SourceLogs, models.SeverityP2, 0.9, "memory", "jvm"),
		finding("e", 4, models.SourceMetrics, models.SeverityP2, 0.9),
	}
	SortFindings(findings)

	c := NewCorrelator(testEngineConfig(), nil)
	clusters := c.Cluster(findings)

	seen := map[string]int{}
	for _, cl := range clusters {
		for _, id := range cl.FindingIDs() {
			seen[id]++
		}
	}
	require.Len(t, seen, len(findings), "every finding must be clustered")
	for id, n := range seen {
		assert.Equal(t, 1, n, "finding %s appears in exactly one cluster", id)
	}
}

func TestClusterRespectsTimeWindow(t *testing.T) {
	findings := []models.Finding{
		finding("early", 0, models.SourceLogs, models.SeverityP2, 0.9, "memory"),
		finding("late", 45, models.SourceLogs, models.SeverityP2, 0.9, "memory"),
	}
	SortFindings(findings)

	c := NewCorrelator(testEngineConfig(), nil)
	clusters := c.Cluster(findings)

	require.Len(t, clusters, 2, "45 minutes apart exceeds the 30 minute window")
}

func TestClusterDeterministic(t *testing.T) {
	findings := []models.Finding{
		finding("x1", 5, models.SourceLogs, models.SeverityP1, 0.9, "database", "latency"),
		finding("x2", 6, models.SourceMetrics, models.SeverityP2, 0.8, "database", "capacity"),
		finding("x3", 7, models.SourceLogs, models.SeverityP2, 0.7, "latency"),
	}
	SortFindings(findings)

	c := NewCorrelator(testEngineConfig(), nil)
	first := c.Cluster(findings)
	for i := 0; i < 10; i++ {
		again := c.Cluster(findings)
		assert.Equal(t, first, again)
	}
}

func TestLinkDecaysWithLag(t *testing.T) {
	cluster := models.SymptomCluster{
		ID:   "cluster-01",
		Tags: []string{"jvm", "memory"},
		Findings: []models.Finding{
			finding("f-oom", 10, models.SourceLogs, models.SeverityP1, 0.95, "jvm", "memory"),
		},
	}
	timeline := []models.TimelineEvent{
		{
			Timestamp: at(2),
			Kind:      models.EventDeployment,
			RefID:     "dep-1",
			Service:   "payment-service",
			Summary:   "Deployed payment-service v2.14.0",
			Tags:      []string{"capacity", "deployment", "memory"},
		},
	}

	c := NewCorrelator(testEngineConfig(), nil)
	links := c.Link([]models.SymptomCluster{cluster}, timeline)

	require.Len(t, links, 1)
	l := links[0]
	assert.Equal(t, "dep-1", l.CauseRefID)
	assert.Equal(t, "cluster-01", l.ClusterID)
	assert.Equal(t, "f-oom", l.EffectRefID)
	assert.Equal(t, 8*time.Minute, l.Lag)
	// Average of overlap 1/2 on the smaller set and decay 2^(-8/30).
	assert.InDelta(t, 0.6656, l.Strength, 0.001)
	assert.Greater(t, l.Strength, 0.5,
		"a risky rollout minutes before onset must register as a strong candidate")
	assert.Contains(t, l.Summary, "8 min")
}

func TestLinkIgnoresLaterAndUnrelatedChanges(t *testing.T) {
	cluster := models.SymptomCluster{
		ID:   "cluster-01",
		Tags: []string{"memory"},
		Findings: []models.Finding{
			finding("f1", 10, models.SourceLogs, models.SeverityP1, 0.9, "memory"),
		},
	}
	timeline := []models.TimelineEvent{
		{
			// After onset: cannot be a cause.
			Timestamp: at(20), Kind: models.EventDeployment,
			RefID: "dep-after", Tags: []string{"memory", "deployment"},
		},
		{
			// No tag overlap.
			Timestamp: at(5), Kind: models.EventDeployment,
			RefID: "dep-unrelated", Tags: []string{"tls", "deployment"},
		},
		{
			// Not a change event.
			Timestamp: at(5), Kind: models.EventFinding,
			RefID: "f-other", Tags: []string{"memory"},
		},
	}

	c := NewCorrelator(testEngineConfig(), nil)
	assert.Empty(t, c.Link([]models.SymptomCluster{cluster}, timeline))
}

func TestLinkLookbackBound(t *testing.T) {
	cfg := testEngineConfig()
	cfg.LinkLookback = time.Hour

	cluster := models.SymptomCluster{
		ID:   "cluster-01",
		Tags: []string{"memory"},
		Findings: []models.Finding{
			finding("f1", 10, models.SourceLogs, models.SeverityP1, 0.9, "memory"),
		},
	}
	timeline := []models.TimelineEvent{
		{
			Timestamp: at(10).Add(-2 * time.Hour),
			Kind:      models.EventDeployment,
			RefID:     "dep-stale",
			Tags:      []string{"memory", "deployment"},
		},
	}

	c := NewCorrelator(cfg, nil)
	assert.Empty(t, c.Link([]models.SymptomCluster{cluster}, timeline))
}

func TestLinkRetainsCompetingCandidates(t *testing.T) {
	cluster := models.SymptomCluster{
		ID:   "cluster-01",
		Tags: []string{"memory"},
		Findings: []models.Finding{
			finding("f1", 30, models.SourceLogs, models.SeverityP1, 0.9, "memory"),
		},
	}
	timeline := []models.TimelineEvent{
		{
			Timestamp: at(25), Kind: models.EventDeployment,
			RefID: "dep-near", Tags: []string{"memory"},
		},
		{
			Timestamp: at(5), Kind: models.EventConfigChange,
			RefID: "chg-far", Tags: []string{"memory"},
		},
	}

	c := NewCorrelator(testEngineConfig(), nil)
	links := c.Link([]models.SymptomCluster{cluster}, timeline)

	require.Len(t, links, 2, "both candidates survive; ranking resolves ambiguity")
	assert.Equal(t, "dep-near", links[0].CauseRefID, "stronger link sorts first")
	assert.Greater(t, links[0].Strength, links[1].Strength)
}

func TestBuildTimelineOrdering(t *testing.T) {
	findings := []models.Finding{
		finding("f-late", 10, models.SourceLogs, models.SeverityP1, 0.9, "memory"),
	}
	deployments := []snapshot.DeploymentRecord{
		{ID: "dep-1", Timestamp: at(2), Service: "payment-service", Version: "v2.14.0",
			Type: "deployment", Changelog: "unbounded cache"},
		{ID: "chg-1", Timestamp: at(10), Service: "api-gateway",
			Type: "config_change", Changelog: "raise circuit threshold"},
	}

	events := BuildTimeline(findings, deployments)

	require.Len(t, events, 3)
	assert.Equal(t, "dep-1", events[0].RefID)
	assert.Equal(t, models.EventDeployment, events[0].Kind)
	// Equal timestamps: the change sorts before the finding it may explain.
	assert.Equal(t, "chg-1", events[1].RefID)
	assert.Equal(t, models.EventConfigChange, events[1].Kind)
	assert.Equal(t, "f-late", events[2].RefID)
}

func TestSortFindingsTieBreaks(t *testing.T) {
	findings := []models.Finding{
		finding("b", 10, models.SourceMetrics, models.SeverityP2, 0.9, "x"),
		finding("a", 10, models.SourceLogs, models.SeverityP2, 0.9, "x"),
		finding("c", 5, models.SourceDeployment, models.SeverityP2, 0.9, "x"),
	}
	SortFindings(findings)

	assert.Equal(t, "c", findings[0].ID)
	assert.Equal(t, "a", findings[1].ID, "logs sort before metrics at equal times")
	assert.Equal(t, "b", findings[2].ID)
}
