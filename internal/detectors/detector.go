package detectors

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
)

// Detector turns one evidence domain of a snapshot into normalized findings.
// Implementations must not mutate the snapshot and must be safe to run
// concurrently with other detectors.
type Detector interface {
	Source() models.Source
	Detect(ctx context.Context, snap *snapshot.Snapshot, task models.InvestigationTask) []models.Finding
}

func newFindingID() string {
	return "find-" + uuid.NewString()[:8]
}

// normalizeTags returns a sorted, deduplicated copy of tags so downstream
// similarity math is order-independent and deterministic.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// corroboratedConfidence implements the fixed confidence function shared by
// the rule-based detectors: a base value raised by each corroborating
// observation beyond the first, capped at the configured ceiling.
func corroboratedConfidence(base, increment, ceiling float64, corroborations int) float64 {
	if corroborations < 1 {
		corroborations = 1
	}
	conf := base + increment*float64(corroborations-1)
	if ceiling > 0 && conf > ceiling {
		conf = ceiling
	}
	return clamp01(conf)
}
