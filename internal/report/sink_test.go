package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentstack/sleuth-rca/internal/models"
)

func TestFileSinkStoresReport(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	rep := &models.Report{
		InvestigationID: "rca-test01",
		Severity:        models.SeverityP1,
		RootCauses: []models.RootCause{
			{ID: "cause-01", Rank: 1, Title: "JVM heap exhaustion", Confidence: 0.87},
		},
		CreatedAt: time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Store(context.Background(), rep))

	data, err := os.ReadFile(filepath.Join(dir, "rca-test01.json"))
	require.NoError(t, err)

	var got models.Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rep.InvestigationID, got.InvestigationID)
	assert.Equal(t, rep.Severity, got.Severity)
	require.Len(t, got.RootCauses, 1)
	assert.InDelta(t, 0.87, got.RootCauses[0].Confidence, 1e-6)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, "rca-test01.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSinkCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	_, err := NewFileSink(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileSinkRejectsEmptyDir(t *testing.T) {
	_, err := NewFileSink("")
	assert.Error(t, err)
}

func TestFileSinkHonoursCancelledContext(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sink.Store(ctx, &models.Report{InvestigationID: "rca-x"}))
}

func TestNoopSink(t *testing.T) {
	assert.NoError(t, NoopSink{}.Store(context.Background(), &models.Report{}))
}
