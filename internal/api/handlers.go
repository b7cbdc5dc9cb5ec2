package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/incidentstack/sleuth-rca/internal/engine"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/services"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

// InvestigationRequest is the POST body starting an investigation.
type InvestigationRequest struct {
	AlertID         string           `json:"alert_id"`
	AlertSource     string           `json:"alert_source,omitempty"`
	Title           string           `json:"title,omitempty"`
	AffectedService string           `json:"affected_service"`
	Severity        models.Severity  `json:"declared_severity,omitempty"`
	Window          models.TimeRange `json:"scope,omitempty"`
	SnapshotDir     string           `json:"snapshot_dir,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	svc         *services.InvestigationService
	snapshotDir string
	reportDir   string
	logger      *slog.Logger
}

// NewHandlers builds the handler set. snapshotDir is the default evidence
// location; requests may point at a different snapshot.
func NewHandlers(svc *services.InvestigationService, snapshotDir, reportDir string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, snapshotDir: snapshotDir, reportDir: reportDir, logger: logger}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/investigations", h.handleInvestigate)
	mux.HandleFunc("GET /api/v1/investigations/{id}", h.handleGetReport)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

func (h *Handlers) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	var req InvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := models.InvestigationTask{
		AlertID:         req.AlertID,
		AlertSource:     req.AlertSource,
		Title:           req.Title,
		AffectedService: req.AffectedService,
		Severity:        req.Severity,
		Window:          req.Window,
	}
	if task.IsEmpty() {
		writeError(w, http.StatusBadRequest, "request carries no investigation scope")
		return
	}

	dir := h.snapshotDir
	if req.SnapshotDir != "" {
		dir = req.SnapshotDir
	}
	snap, err := snapshot.Load(dir)
	if err != nil {
		h.logger.Error("snapshot load failed", "dir", dir, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "snapshot unavailable: "+err.Error())
		return
	}

	rep, cached, err := h.svc.Investigate(r.Context(), task, snap)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyTask) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("investigation failed", "alert_id", task.AlertID, "error", err)
		writeError(w, http.StatusInternalServerError, "investigation failed")
		return
	}

	if cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handlers) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || strings.ContainsAny(id, "/\\.") {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	path := filepath.Join(h.reportDir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		h.logger.Error("report read failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "report unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"p99_ms": h.svc.P99Latency().Milliseconds(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
