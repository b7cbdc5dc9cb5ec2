package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentstack/sleuth-rca/internal/cache"
	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/engine"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/services"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

func apiConfig() *config.Config {
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

func writeSnapshotDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	logs := `{
  "log_entries": [
    {
      "id": "log-1",
      "timestamp": "2025-03-14T02:10:00Z",
      "service": "payment-service",
      "level": "ERROR",
      "message": "java.lang.OutOfMemoryError: Java heap space"
    }
  ]
}`
	deploys := `{
  "deployments": [
    {
      "id": "dep-1",
      "timestamp": "2025-03-14T02:02:00Z",
      "service": "payment-service",
      "version": "v2.14.0",
      "type": "deployment",
      "changelog": "Add in-memory transaction cache with unbounded queue"
    }
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.LogsFile), []byte(logs), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.DeploymentsFile), []byte(deploys), 0o644))
	return dir
}

func newTestHandlers(t *testing.T, snapshotDir, reportDir string) *Handlers {
	t.Helper()
	c := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	pipeline := engine.NewPipeline(apiConfig(), nil, nil, nil, nil)
	svc := services.NewInvestigationService(pipeline, c, time.Minute, nil, nil)
	return NewHandlers(svc, snapshotDir, reportDir, nil)
}

func TestHandleInvestigate(t *testing.T) {
	h := newTestHandlers(t, writeSnapshotDir(t), t.TempDir())
	mux := h.Routes()

	body, _ := json.Marshal(InvestigationRequest{
		AlertID:         "alert-1",
		AffectedService: "payment-service",
		Severity:        models.SeverityP1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/investigations", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))

	var rep models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.NotEmpty(t, rep.InvestigationID)
	assert.NotEmpty(t, rep.RootCauses)

	// Same alert again hits the cache.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/investigations", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
}

func TestHandleInvestigateRejectsEmptyScope(t *testing.T) {
	h := newTestHandlers(t, writeSnapshotDir(t), t.TempDir())
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/investigations", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInvestigateRejectsBadBody(t *testing.T) {
	h := newTestHandlers(t, writeSnapshotDir(t), t.TempDir())
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/investigations", bytes.NewReader([]byte(`{not json`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetReport(t *testing.T) {
	reportDir := t.TempDir()
	h := newTestHandlers(t, writeSnapshotDir(t), reportDir)
	mux := h.Routes()

	stored := models.Report{InvestigationID: "rca-abc123", Severity: models.SeverityP1}
	data, _ := json.Marshal(stored)
	require.NoError(t, os.WriteFile(filepath.Join(reportDir, "rca-abc123.json"), data, 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/investigations/rca-abc123", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "rca-abc123", got.InvestigationID)
}

func TestHandleGetReportNotFound(t *testing.T) {
	h := newTestHandlers(t, writeSnapshotDir(t), t.TempDir())
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/investigations/rca-missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t, writeSnapshotDir(t), t.TempDir())
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
