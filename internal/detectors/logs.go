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

// logSignature describes one known failure pattern in application logs.
// Matching is substring-based over the message; every matching entry beyond
// the first counts as corroboration.
type logSignature struct {
	Name           string
	Match          string
	Severity       models.Severity
	BaseConfidence float64
	Tags           []string
	Title          string
}

// defaultLogSignatures covers the failure classes the engine knows how to
// explain. Ordered by severity so the highest-impact match wins when a
// record triggers more than one signature.
var defaultLogSignatures = []logSignature{
	{
		Name:           "jvm-oom",
		Match:          "OutOfMemoryError",
		Severity:       models.SeverityP1,
		BaseConfidence: 0.95,
		Tags:           []string{"memory", "jvm"},
		Title:          "JVM heap exhaustion (OutOfMemoryError)",
	},
	{
		Name:           "pool-exhausted",
		Match:          "Connection pool exhausted",
		Severity:       models.SeverityP1,
		BaseConfidence: 0.93,
		Tags:           []string{"database", "capacity"},
		Title:          "Database connection pool exhausted",
	},
	{
		Name:           "tls-handshake",
		Match:          "TLS handshake failed",
		Severity:       models.SeverityP2,
		BaseConfidence: 0.96,
		Tags:           []string{"tls", "config"},
		Title:          "TLS handshake failures",
	},
	{
		Name:           "query-timeout",
		Match:          "Database query timeout",
		Severity:       models.SeverityP2,
		BaseConfidence: 0.94,
		Tags:           []string{"database", "latency"},
		Title:          "Database query timeouts",
	},
	{
		Name:           "deadlock",
		Match:          "Deadlock detected",
		Severity:       models.SeverityP2,
		BaseConfidence: 0.92,
		Tags:           []string{"concurrency", "database"},
		Title:          "Deadlock detected",
	},
	{
		Name:           "cascading",
		Match:          "Cascading failure",
		Severity:       models.SeverityP2,
		BaseConfidence: 0.9,
		Tags:           []string{"cascade", "errors"},
		Title:          "Cascading failure reported downstream",
	},
}

// LogDetector scans application logs for known failure signatures and for
// error bursts that indicate a cascade even without an explicit signature.
type LogDetector struct {
	cfg        config.DetectorsConfig
	signatures []logSignature
	logger     *slog.Logger
}

// NewLogDetector builds a log detector with the default signature table.
func NewLogDetector(cfg config.DetectorsConfig, logger *slog.Logger) *LogDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDetector{cfg: cfg, signatures: defaultLogSignatures, logger: logger}
}

func (d *LogDetector) Source() models.Source { return models.SourceLogs }

// Detect evaluates every signature against the in-scope log records. Each
// signature yields at most one finding, anchored at the earliest matching
// entry, with confidence raised by corroborating entries.
func (d *LogDetector) Detect(ctx context.Context, snap *snapshot.Snapshot, task models.InvestigationTask) []models.Finding {
	records := filterLogRecords(snap.Logs, task)
	if len(records) == 0 {
		return nil
	}

	var findings []models.Finding
	for _, sig := range d.signatures {
		if ctx.Err() != nil {
			return findings
		}
		matches := matchSignature(records, sig)
		if len(matches) == 0 {
			continue
		}
		findings = append(findings, d.buildSignatureFinding(sig, matches))
	}

	if f, ok := d.detectErrorBurst(records); ok {
		findings = append(findings, f)
	}

	d.logger.Debug("log detection complete",
		"records", len(records),
		"findings", len(findings),
	)
	return findings
}

func (d *LogDetector) buildSignatureFinding(sig logSignature, matches []snapshot.LogRecord) models.Finding {
	first := matches[0]
	services := servicesOf(matches)

	evidence := map[string]any{
		"matched_entries": len(matches),
		"first_entry_id":  first.ID,
		"sample_message":  first.Message,
	}
	if len(first.StackTrace) > 0 {
		evidence["stack_trace"] = first.StackTrace
	}
	if src, ok := first.Metadata["suspected_source"]; ok {
		evidence["suspected_source"] = src
	}

	return models.Finding{
		ID:          newFindingID(),
		Source:      models.SourceLogs,
		Title:       sig.Title,
		Description: describeMatches(sig, matches),
		Severity:    sig.Severity,
		Confidence: corroboratedConfidence(
			sig.BaseConfidence,
			d.cfg.CorroborationIncrement,
			d.cfg.ConfidenceCeiling,
			len(matches),
		),
		Timestamp: first.Timestamp,
		Evidence:  evidence,
		Tags:      normalizeTags(sig.Tags),
		Services:  services,
	}
}

// detectErrorBurst flags a dense run of error-level entries from a single
// service. A burst without a known signature still marks the service as a
// symptom carrier.
func (d *LogDetector) detectErrorBurst(records []snapshot.LogRecord) (models.Finding, bool) {
	window := d.cfg.CascadeWindow
	minEntries := d.cfg.CascadeMinEntries
	if window <= 0 || minEntries <= 0 {
		return models.Finding{}, false
	}

	byService := make(map[string][]snapshot.LogRecord)
	for _, rec := range records {
		if !isErrorLevel(rec.Level) {
			continue
		}
		byService[rec.Service] = append(byService[rec.Service], rec)
	}

	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		entries := byService[svc]
		if len(entries) < minEntries {
			continue
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		})
		// Sliding window over the sorted error entries.
		for start := 0; start+minEntries <= len(entries); start++ {
			end := start + minEntries - 1
			if entries[end].Timestamp.Sub(entries[start].Timestamp) > window {
				continue
			}
			burst := entries[start : end+1]
			return models.Finding{
				ID:     newFindingID(),
				Source: models.SourceLogs,
				Title:  fmt.Sprintf("Error burst in %s", svc),
				Description: fmt.Sprintf(
					"%d error entries from %s within %s, starting %s",
					len(burst), svc, window, burst[0].Timestamp.Format(time.RFC3339),
				),
				Severity: models.SeverityP2,
				Confidence: corroboratedConfidence(
					0.75,
					d.cfg.CorroborationIncrement,
					d.cfg.ConfidenceCeiling,
					len(burst),
				),
				Timestamp: burst[0].Timestamp,
				Evidence: map[string]any{
					"burst_entries": len(burst),
					"window":        window.String(),
				},
				Tags:     normalizeTags([]string{"cascade", "errors"}),
				Services: []string{svc},
			}, true
		}
	}
	return models.Finding{}, false
}

// filterLogRecords applies the task scope. The service filter keeps entries
// from the affected service plus any entry that names it, since cascades
// surface in neighbouring services' logs.
func filterLogRecords(records []snapshot.LogRecord, task models.InvestigationTask) []snapshot.LogRecord {
	out := make([]snapshot.LogRecord, 0, len(records))
	for _, rec := range records {
		if !task.Window.Contains(rec.Timestamp) {
			continue
		}
		if task.AffectedService != "" &&
			rec.Service != task.AffectedService &&
			!strings.Contains(rec.Message, task.AffectedService) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func matchSignature(records []snapshot.LogRecord, sig logSignature) []snapshot.LogRecord {
	var matches []snapshot.LogRecord
	for _, rec := range records {
		if strings.Contains(rec.Message, sig.Match) {
			matches = append(matches, rec)
		}
	}
	return matches
}

func describeMatches(sig logSignature, matches []snapshot.LogRecord) string {
	services := servicesOf(matches)
	if len(matches) == 1 {
		return fmt.Sprintf("%q observed in %s", sig.Match, strings.Join(services, ", "))
	}
	return fmt.Sprintf("%q observed %d times across %s",
		sig.Match, len(matches), strings.Join(services, ", "))
}

func servicesOf(records []snapshot.LogRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, rec := range records {
		if rec.Service == "" {
			continue
		}
		if _, ok := seen[rec.Service]; ok {
			continue
		}
		seen[rec.Service] = struct{}{}
		out = append(out, rec.Service)
	}
	sort.Strings(out)
	return out
}

func isErrorLevel(level string) bool {
	switch strings.ToUpper(level) {
	case "ERROR", "FATAL", "CRITICAL":
		return true
	}
	return false
}
