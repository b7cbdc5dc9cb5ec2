package models

import "time"

// Coverage records which evidence domains completed analysis. A detector
// that timed out leaves its domain missing and the report is marked partial.
type Coverage struct {
	Partial        bool     `json:"partial"`
	MissingSources []string `json:"missing_sources,omitempty"`
	SkippedRecords int      `json:"skipped_records,omitempty"`
}

// Report is the final Root Cause Analysis document. Field names are stable;
// confidence values round-trip through JSON without loss beyond 1e-6.
type Report struct {
	InvestigationID     string               `json:"investigation_id"`
	Alert               InvestigationTask    `json:"alert"`
	Severity            Severity             `json:"severity"`
	Summary             string               `json:"summary,omitempty"`
	Timeline            []TimelineEvent      `json:"timeline"`
	RootCauses          []RootCause          `json:"root_causes"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
	Remediation         []Remediation        `json:"remediation"`
	FindingsBySource    map[string][]Finding `json:"findings_by_source"`
	BlastRadius         []string             `json:"blast_radius,omitempty"`
	Coverage            Coverage             `json:"coverage"`
	CreatedAt           time.Time            `json:"created_at"`
}
