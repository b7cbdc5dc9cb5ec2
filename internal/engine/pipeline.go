package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/detectors"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/report"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// ErrEmptyTask is returned when an investigation arrives without any usable
// scope: no alert ID, no affected service, no time window.
var ErrEmptyTask = errors.New("investigation task has no scope")

// Pipeline runs a complete investigation: detect, order, correlate, rank,
// recommend, assemble. Stateless between runs; safe for concurrent use.
type Pipeline struct {
	cfg         *config.Config
	detectors   []detectors.Detector
	correlator  *Correlator
	ranker      *Ranker
	recommender *Recommender
	sink        report.Sink
	observer    StageObserver
	logger      *slog.Logger
}

// NewPipeline wires the pipeline. Nil optional collaborators default to
// no-ops; a nil detector list defaults to the full detector set.
func NewPipeline(cfg *config.Config, dets []detectors.Detector, sink report.Sink, observer StageObserver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(dets) == 0 {
		dets = []detectors.Detector{
			detectors.NewLogDetector(cfg.Detectors, logger),
			detectors.NewMetricsDetector(cfg.Detectors, logger),
			detectors.NewDeployDetector(cfg.Detectors, logger),
		}
	}
	if sink == nil {
		sink = report.NoopSink{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Pipeline{
		cfg:         cfg,
		detectors:   dets,
		correlator:  NewCorrelator(cfg.Engine, logger),
		ranker:      NewRanker(cfg.Engine, logger),
		recommender: NewRecommender(cfg.Rules.Path, logger),
		sink:        sink,
		observer:    observer,
		logger:      logger,
	}
}

// Investigate runs the full pipeline over a closed evidence snapshot and
// returns the finished report. A detector exceeding its time budget drops
// its domain from coverage instead of failing the run.
func (p *Pipeline) Investigate(ctx context.Context, task models.InvestigationTask, snap *snapshot.Snapshot) (*models.Report, error) {
	if task.IsEmpty() {
		return nil, utils.NewAppError("pipeline.investigate", "rejecting empty task", ErrEmptyTask)
	}
	if snap == nil {
		snap = &snapshot.Snapshot{}
	}

	investigationID := "rca-" + uuid.NewString()[:8]
	logger := p.logger.With("investigation_id", investigationID, "alert_id", task.AlertID)
	logger.Info("investigation started",
		"affected_service", task.AffectedService,
		"declared_severity", task.Severity,
	)

	findings, missing, err := p.detect(ctx, task, snap)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	SortFindings(findings)
	timeline := BuildTimeline(findings, snap.Deployments)
	p.observer.StageCompleted("timeline", time.Since(start), len(timeline))

	start = time.Now()
	clusters := p.correlator.Cluster(findings)
	links := p.correlator.Link(clusters, timeline)
	p.observer.StageCompleted("correlate", time.Since(start), len(clusters))

	start = time.Now()
	causes, factors := p.ranker.Rank(clusters, links)
	p.observer.StageCompleted("rank", time.Since(start), len(causes))

	remediation := p.recommender.Recommend(causes)

	rep := p.assemble(investigationID, task, snap, findings, timeline, causes, factors, remediation, missing)

	if err := p.sink.Store(ctx, rep); err != nil {
		// A failed write does not invalidate the analysis.
		logger.Error("failed to persist report", "error", err)
	}

	logger.Info("investigation complete",
		"findings", len(findings),
		"root_causes", len(causes),
		"partial", rep.Coverage.Partial,
	)
	return rep, nil
}

// detect fans out over the configured detectors, each on its own goroutine
// with an individual time budget. A detector that overruns is abandoned and
// its source recorded as missing.
func (p *Pipeline) detect(ctx context.Context, task models.InvestigationTask, snap *snapshot.Snapshot) ([]models.Finding, []string, error) {
	start := time.Now()
	results := make([][]models.Finding, len(p.detectors))
	timedOut := make([]bool, len(p.detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, det := range p.detectors {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, p.cfg.Detectors.Timeout)
			defer cancel()

			done := make(chan []models.Finding, 1)
			go func() {
				done <- det.Detect(dctx, snap, task)
			}()

			select {
			case fs := <-done:
				results[i] = fs
				return nil
			case <-dctx.Done():
				if err := gctx.Err(); err != nil {
					return err
				}
				timedOut[i] = true
				p.logger.Warn("detector exceeded time budget, dropping source",
					"source", det.Source(),
					"budget", p.cfg.Detectors.Timeout,
				)
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, utils.NewAppError("pipeline.detect", "detection aborted", err)
	}

	var findings []models.Finding
	var missing []string
	for i := range p.detectors {
		if timedOut[i] {
			missing = append(missing, string(p.detectors[i].Source()))
			continue
		}
		findings = append(findings, results[i]...)
	}
	sort.Strings(missing)

	p.observer.StageCompleted("detect", time.Since(start), len(findings))
	return findings, missing, nil
}

func (p *Pipeline) assemble(
	id string,
	task models.InvestigationTask,
	snap *snapshot.Snapshot,
	findings []models.Finding,
	timeline []models.TimelineEvent,
	causes []models.RootCause,
	factors []models.ContributingFactor,
	remediation []models.Remediation,
	missing []string,
) *models.Report {
	bySource := map[string][]models.Finding{}
	for _, f := range findings {
		bySource[string(f.Source)] = append(bySource[string(f.Source)], f)
	}

	return &models.Report{
		InvestigationID:     id,
		Alert:               task,
		Severity:            overallSeverity(findings, task),
		Summary:             summarize(task, findings, causes),
		Timeline:            timeline,
		RootCauses:          causes,
		ContributingFactors: factors,
		Remediation:         remediation,
		FindingsBySource:    bySource,
		BlastRadius:         blastRadius(findings),
		Coverage: models.Coverage{
			Partial:        len(missing) > 0,
			MissingSources: missing,
			SkippedRecords: snap.SkippedRecords,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// overallSeverity is the most severe finding level, or the alert's declared
// severity when nothing was found.
func overallSeverity(findings []models.Finding, task models.InvestigationTask) models.Severity {
	best := models.SeverityP4
	found := false
	for _, f := range findings {
		found = true
		if f.Severity.ImpactWeight() > best.ImpactWeight() {
			best = f.Severity
		}
	}
	if !found {
		if task.Severity != "" {
			return task.Severity
		}
		return models.SeverityP4
	}
	return best
}

func summarize(task models.InvestigationTask, findings []models.Finding, causes []models.RootCause) string {
	if len(findings) == 0 {
		return "No anomalous findings in the investigated window; evidence does not support a root cause."
	}
	if len(causes) == 0 {
		return fmt.Sprintf("%d findings collected but none could be ranked as a root cause.", len(findings))
	}
	top := causes[0]
	subject := task.AffectedService
	if subject == "" {
		subject = "the investigated services"
	}
	return fmt.Sprintf("%s (confidence %.2f) identified as the primary root cause affecting %s; %d findings across the evidence window.",
		top.Title, top.Confidence, subject, len(findings))
}

// blastRadius is the distinct set of services touched by any finding.
func blastRadius(findings []models.Finding) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range findings {
		for _, svc := range f.Services {
			if _, ok := seen[svc]; ok {
				continue
			}
			seen[svc] = struct{}{}
			out = append(out, svc)
		}
	}
	sort.Strings(out)
	return out
}
