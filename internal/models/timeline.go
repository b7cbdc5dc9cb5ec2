package models

import "time"

// EventKind distinguishes timeline entries.
type EventKind string

const (
	EventFinding      EventKind = "FINDING"
	EventDeployment   EventKind = "DEPLOYMENT"
	EventConfigChange EventKind = "CONFIG_CHANGE"
)

// TimelineEvent records one step of the incident progression. The timeline
// holds every event, unfiltered, so causal lag computations see full context.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	RefID     string    `json:"ref_id"`
	Service   string    `json:"service,omitempty"`
	Summary   string    `json:"summary"`
	Tags      []string  `json:"tags,omitempty"`
}

// IsCauseCandidate reports whether the event can be attached to a symptom
// cluster as a candidate cause.
func (e TimelineEvent) IsCauseCandidate() bool {
	return e.Kind == EventDeployment || e.Kind == EventConfigChange
}
