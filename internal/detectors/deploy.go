package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

// changeSignature maps changelog vocabulary to a risk classification. The
// first matching signature wins; the table is ordered highest risk first.
type changeSignature struct {
	Keywords   []string
	Severity   models.Severity
	Confidence float64
	Tags       []string
	Risk       string
}

var defaultChangeSignatures = []changeSignature{
	{
		Keywords:   []string{"unbounded", "queue", "memory", "cache"},
		Severity:   models.SeverityP1,
		Confidence: 0.9,
		Tags:       []string{"memory", "capacity"},
		Risk:       "introduces unbounded memory growth",
	},
	{
		Keywords:   []string{"cert", "tls", "certificate"},
		Severity:   models.SeverityP2,
		Confidence: 0.92,
		Tags:       []string{"tls", "config"},
		Risk:       "touches TLS material",
	},
	{
		Keywords:   []string{"index", "migration", "schema"},
		Severity:   models.SeverityP2,
		Confidence: 0.88,
		Tags:       []string{"database"},
		Risk:       "changes database access paths",
	},
	{
		Keywords:   []string{"circuit", "threshold", "timeout", "retry"},
		Severity:   models.SeverityP2,
		Confidence: 0.85,
		Tags:       []string{"config", "cascade"},
		Risk:       "alters failure-handling behaviour",
	},
	{
		Keywords:   []string{"traffic", "flash", "sale", "campaign"},
		Severity:   models.SeverityP2,
		Confidence: 0.8,
		Tags:       []string{"traffic", "capacity"},
		Risk:       "anticipates a traffic surge",
	},
}

// DeployDetector turns risky entries of the deployment history into
// findings so the correlator can consider them as cause candidates.
type DeployDetector struct {
	cfg        config.DetectorsConfig
	signatures []changeSignature
	logger     *slog.Logger
}

// NewDeployDetector builds a deployment detector with the default
// change-signature table.
func NewDeployDetector(cfg config.DetectorsConfig, logger *slog.Logger) *DeployDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeployDetector{cfg: cfg, signatures: defaultChangeSignatures, logger: logger}
}

func (d *DeployDetector) Source() models.Source { return models.SourceDeployment }

// Detect emits at most one finding per deployment record. Records after the
// scope end are ignored; records before the scope start stay in, because the
// offending change usually predates the symptoms.
func (d *DeployDetector) Detect(ctx context.Context, snap *snapshot.Snapshot, task models.InvestigationTask) []models.Finding {
	var findings []models.Finding
	for _, rec := range snap.Deployments {
		if ctx.Err() != nil {
			return findings
		}
		if !task.Window.End.IsZero() && rec.Timestamp.After(task.Window.End) {
			continue
		}
		sig, ok := d.classify(rec)
		if !ok {
			continue
		}
		findings = append(findings, d.buildFinding(rec, sig))
	}

	d.logger.Debug("deployment detection complete",
		"records", len(snap.Deployments),
		"findings", len(findings),
	)
	return findings
}

func (d *DeployDetector) classify(rec snapshot.DeploymentRecord) (changeSignature, bool) {
	text := changeText(rec)
	for _, sig := range d.signatures {
		for _, kw := range sig.Keywords {
			if strings.Contains(text, kw) {
				return sig, true
			}
		}
	}
	return changeSignature{}, false
}

func (d *DeployDetector) buildFinding(rec snapshot.DeploymentRecord, sig changeSignature) models.Finding {
	tags := append([]string{}, sig.Tags...)
	if rec.IsConfigChange() {
		tags = append(tags, "config")
	} else {
		tags = append(tags, "deployment")
	}

	title := fmt.Sprintf("Deployment %s of %s", rec.Version, rec.Service)
	if rec.IsConfigChange() {
		title = fmt.Sprintf("Config change on %s", rec.Service)
	}

	evidence := map[string]any{
		"deployment_id": rec.ID,
		"type":          rec.Type,
		"changelog":     rec.Changelog,
	}
	if rec.Version != "" {
		evidence["version"] = rec.Version
	}
	if rec.PreviousVersion != "" {
		evidence["previous_version"] = rec.PreviousVersion
	}
	if len(rec.ConfigDeltas) > 0 {
		deltas := make([]string, 0, len(rec.ConfigDeltas))
		for _, cd := range rec.ConfigDeltas {
			deltas = append(deltas, fmt.Sprintf("%s: %s -> %s", cd.Key, cd.Old, cd.New))
		}
		evidence["config_deltas"] = deltas
	}

	conf := corroboratedConfidence(sig.Confidence, d.cfg.CorroborationIncrement,
		d.cfg.ConfidenceCeiling, 1)

	return models.Finding{
		ID:          newFindingID(),
		Source:      models.SourceDeployment,
		Title:       title,
		Description: fmt.Sprintf("Change %s: %s", sig.Risk, rec.Changelog),
		Severity:    sig.Severity,
		Confidence:  conf,
		Timestamp:   rec.Timestamp,
		Evidence:    evidence,
		Tags:        normalizeTags(tags),
		Services:    []string{rec.Service},
	}
}

// ChangeTags classifies a deployment record into category tags without
// producing a finding. The timeline builder uses it to label change events
// that never became findings.
func ChangeTags(rec snapshot.DeploymentRecord) []string {
	text := changeText(rec)
	var tags []string
	for _, sig := range defaultChangeSignatures {
		for _, kw := range sig.Keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, sig.Tags...)
				break
			}
		}
	}
	if rec.IsConfigChange() {
		tags = append(tags, "config")
	} else {
		tags = append(tags, "deployment")
	}
	return normalizeTags(tags)
}

func changeText(rec snapshot.DeploymentRecord) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(rec.Changelog))
	for _, cd := range rec.ConfigDeltas {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(cd.Key))
	}
	return sb.String()
}
