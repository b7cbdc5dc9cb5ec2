package models

import "time"

// SymptomCluster groups findings believed to describe the same underlying
// problem observed from different angles. Clusters partition the finding
// set: every finding belongs to exactly one cluster.
type SymptomCluster struct {
	ID       string    `json:"id"`
	Tags     []string  `json:"tags"`
	Findings []Finding `json:"findings"`
}

// EarliestTimestamp returns the timestamp of the cluster's first finding.
// Findings are kept in timeline order, so this is the first element.
func (c SymptomCluster) EarliestTimestamp() time.Time {
	if len(c.Findings) == 0 {
		return time.Time{}
	}
	return c.Findings[0].Timestamp
}

// MaxConfidence returns the highest confidence among the cluster's findings.
func (c SymptomCluster) MaxConfidence() float64 {
	max := 0.0
	for _, f := range c.Findings {
		if f.Confidence > max {
			max = f.Confidence
		}
	}
	return max
}

// SourceCount returns the number of distinct evidence domains represented.
// A symptom corroborated by independent domains is worth more than repeated
// findings from a single domain.
func (c SymptomCluster) SourceCount() int {
	seen := make(map[Source]struct{}, 3)
	for _, f := range c.Findings {
		seen[f.Source] = struct{}{}
	}
	return len(seen)
}

// CountSeverity returns how many findings carry the given severity.
func (c SymptomCluster) CountSeverity(s Severity) int {
	n := 0
	for _, f := range c.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// ImpactWeight aggregates severity weights across the cluster's findings.
func (c SymptomCluster) ImpactWeight() float64 {
	w := 0.0
	for _, f := range c.Findings {
		w += f.Severity.ImpactWeight()
	}
	return w
}

// FindingIDs returns the ordered finding identifiers.
func (c SymptomCluster) FindingIDs() []string {
	ids := make([]string, 0, len(c.Findings))
	for _, f := range c.Findings {
		ids = append(ids, f.ID)
	}
	return ids
}

// Services returns the distinct services the cluster's findings touch, in
// first-seen order.
func (c SymptomCluster) Services() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, f := range c.Findings {
		for _, svc := range f.Services {
			if _, ok := seen[svc]; ok {
				continue
			}
			seen[svc] = struct{}{}
			out = append(out, svc)
		}
	}
	return out
}

// MaxSeverity returns the most severe finding level present in the cluster.
func (c SymptomCluster) MaxSeverity() Severity {
	order := []Severity{SeverityP1, SeverityP2, SeverityP3}
	for _, s := range order {
		if c.CountSeverity(s) > 0 {
			return s
		}
	}
	return SeverityP4
}

// CausalLink is a scored hypothesis that a deployment or config-change event
// caused a symptom cluster. Competing links for the same cluster are all
// retained; the ranker resolves ambiguity by score, not the engine.
type CausalLink struct {
	CauseRefID  string        `json:"cause_ref_id"`
	ClusterID   string        `json:"cluster_id"`
	EffectRefID string        `json:"effect_ref_id"`
	Lag         time.Duration `json:"lag_ns"`
	Strength    float64       `json:"strength"`
	Summary     string        `json:"summary,omitempty"`
}

// RootCause is a ranked, evidence-backed explanation selected as a primary
// driver of the incident. Immutable once produced by the ranker.
type RootCause struct {
	ID                    string   `json:"id"`
	Rank                  int      `json:"rank"`
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	Confidence            float64  `json:"confidence"`
	CauseRefID            string   `json:"cause_ref_id,omitempty"`
	ClusterID             string   `json:"cluster_id"`
	Tags                  []string `json:"tags"`
	SupportingFindingIDs  []string `json:"supporting_finding_ids"`
	ContributingFactorIDs []string `json:"contributing_factor_ids,omitempty"`
}

// ContributingFactor summarises a cluster that worsened the incident but was
// not selected as a top-ranked root cause.
type ContributingFactor struct {
	ClusterID   string   `json:"cluster_id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Tags        []string `json:"tags"`
	FindingIDs  []string `json:"finding_ids"`
	AttachedTo  string   `json:"attached_to,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// RemediationCategory buckets actions by urgency.
type RemediationCategory string

const (
	RemediationImmediate  RemediationCategory = "IMMEDIATE"
	RemediationShortTerm  RemediationCategory = "SHORT_TERM"
	RemediationPreventive RemediationCategory = "PREVENTIVE"
)

// Remediation is a recommended action for a ranked root cause.
type Remediation struct {
	Category        RemediationCategory `json:"category"`
	Action          string              `json:"action"`
	Command         string              `json:"command,omitempty"`
	Risk            string              `json:"risk,omitempty"`
	TargetRootCause string              `json:"target_root_cause_id"`
}
