package models

import "time"

// Severity captures incident impact, P1 highest.
type Severity string

const (
	SeverityP1 Severity = "P1_CRITICAL"
	SeverityP2 Severity = "P2_HIGH"
	SeverityP3 Severity = "P3_MEDIUM"
	SeverityP4 Severity = "P4_LOW"
)

// ImpactWeight returns the ranking weight of the severity. P1 findings
// dominate cluster impact; P4 barely registers.
func (s Severity) ImpactWeight() float64 {
	switch s {
	case SeverityP1:
		return 1.0
	case SeverityP2:
		return 0.5
	case SeverityP3:
		return 0.2
	default:
		return 0.05
	}
}

// Source enumerates the evidence domains feeding the engine.
type Source string

const (
	SourceLogs       Source = "logs"
	SourceMetrics    Source = "metrics"
	SourceDeployment Source = "deployment"
)

// Order returns the deterministic tie-break position for equal timestamps:
// logs before metrics before deployments.
func (s Source) Order() int {
	switch s {
	case SourceLogs:
		return 0
	case SourceMetrics:
		return 1
	case SourceDeployment:
		return 2
	default:
		return 3
	}
}

// Finding is a single normalized observation produced by a detector.
// Immutable once emitted; downstream stages read, never mutate.
type Finding struct {
	ID          string         `json:"id"`
	Source      Source         `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Timestamp   time.Time      `json:"timestamp"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Tags        []string       `json:"tags"`
	Services    []string       `json:"related_services,omitempty"`
}

// HasTag reports whether the finding carries the given category label.
func (f Finding) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TimeRange bounds the evidence window for an investigation.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls inside the range. An unset bound is open.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// InvestigationTask is the objective handed to detectors, created once per
// run from the incoming alert and read-only thereafter.
type InvestigationTask struct {
	AlertID         string    `json:"alert_id"`
	AlertSource     string    `json:"alert_source,omitempty"`
	Title           string    `json:"title,omitempty"`
	AffectedService string    `json:"affected_service"`
	Severity        Severity  `json:"declared_severity"`
	Window          TimeRange `json:"scope"`
}

// IsEmpty reports whether the task carries no usable scope at all. An empty
// task is rejected before entering the engine.
func (t InvestigationTask) IsEmpty() bool {
	return t.AlertID == "" && t.AffectedService == "" && t.Window.IsZero()
}
