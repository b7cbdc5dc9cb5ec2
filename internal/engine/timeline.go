package engine

import (
	"fmt"
	"sort"

	"github.com/incidentstack/sleuth-rca/internal/detectors"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

// SortFindings orders findings by timestamp, then source (logs, metrics,
// deployments), then ID. Every downstream stage depends on this order, so it
// is applied once, right after detection.
func SortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Source.Order() != b.Source.Order() {
			return a.Source.Order() < b.Source.Order()
		}
		return a.ID < b.ID
	})
}

// BuildTimeline merges findings and the full deployment history into a single
// chronological event stream. Deployment records appear even when no detector
// flagged them; the correlator needs every change as a potential cause.
func BuildTimeline(findings []models.Finding, deployments []snapshot.DeploymentRecord) []models.TimelineEvent {
	events := make([]models.TimelineEvent, 0, len(findings)+len(deployments))

	for _, f := range findings {
		service := ""
		if len(f.Services) > 0 {
			service = f.Services[0]
		}
		events = append(events, models.TimelineEvent{
			Timestamp: f.Timestamp,
			Kind:      models.EventFinding,
			RefID:     f.ID,
			Service:   service,
			Summary:   f.Title,
			Tags:      f.Tags,
		})
	}

	for _, rec := range deployments {
		kind := models.EventDeployment
		summary := fmt.Sprintf("Deployed %s %s", rec.Service, rec.Version)
		if rec.IsConfigChange() {
			kind = models.EventConfigChange
			summary = fmt.Sprintf("Config change on %s", rec.Service)
		}
		events = append(events, models.TimelineEvent{
			Timestamp: rec.Timestamp,
			Kind:      kind,
			RefID:     rec.ID,
			Service:   rec.Service,
			Summary:   summary,
			Tags:      detectors.ChangeTags(rec),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Kind != b.Kind {
			// Changes sort before the findings they may explain.
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		return a.RefID < b.RefID
	})
	return events
}

func kindOrder(k models.EventKind) int {
	switch k {
	case models.EventDeployment:
		return 0
	case models.EventConfigChange:
		return 1
	default:
		return 2
	}
}
