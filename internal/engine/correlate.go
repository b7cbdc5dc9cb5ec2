package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// Correlator groups findings into symptom clusters and attaches candidate
// causes from the timeline.
type Correlator struct {
	cfg    config.EngineConfig
	logger *slog.Logger
}

// NewCorrelator builds a correlator with the given tunables.
func NewCorrelator(cfg config.EngineConfig, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{cfg: cfg, logger: logger}
}

// Cluster partitions findings into symptom clusters using tag similarity
// within a bounded time window. Input must already be in timeline order; the
// single pass attaches each finding to the most similar open cluster, or
// opens a new one. Every finding lands in exactly one cluster.
func (c *Correlator) Cluster(findings []models.Finding) []models.SymptomCluster {
	var clusters []models.SymptomCluster

	for _, f := range findings {
		best := -1
		bestSim := 0.0
		for i := range clusters {
			cl := &clusters[i]
			last := cl.Findings[len(cl.Findings)-1]
			if f.Timestamp.Sub(last.Timestamp) > c.cfg.ClusterWindow {
				continue
			}
			sim := jaccard(f.Tags, cl.Tags)
			if sim < c.cfg.SimilarityThreshold {
				continue
			}
			// Strictly greater keeps ties on the earliest cluster.
			if sim > bestSim {
				bestSim = sim
				best = i
			}
		}

		if best < 0 {
			clusters = append(clusters, models.SymptomCluster{
				ID:       fmt.Sprintf("cluster-%02d", len(clusters)+1),
				Tags:     append([]string(nil), f.Tags...),
				Findings: []models.Finding{f},
			})
			continue
		}
		cl := &clusters[best]
		cl.Findings = append(cl.Findings, f)
		cl.Tags = unionTags(cl.Tags, f.Tags)
	}

	c.logger.Debug("clustering complete",
		"findings", len(findings),
		"clusters", len(clusters),
	)
	return clusters
}

// Link scores change events against symptom clusters. A link requires the
// change to precede the cluster's first symptom within the lookback. Strength
// averages tag overlap with an exponential lag decay, so a recent change with
// partial tag overlap still registers as a strong candidate. Competing links
// are all retained.
func (c *Correlator) Link(clusters []models.SymptomCluster, timeline []models.TimelineEvent) []models.CausalLink {
	var links []models.CausalLink

	for _, cl := range clusters {
		onset := cl.EarliestTimestamp()
		if onset.IsZero() {
			continue
		}
		effectID := ""
		if ids := cl.FindingIDs(); len(ids) > 0 {
			effectID = ids[0]
		}

		for _, ev := range timeline {
			if !ev.IsCauseCandidate() {
				continue
			}
			if ev.Timestamp.After(onset) {
				continue
			}
			lag := onset.Sub(ev.Timestamp)
			if c.cfg.LinkLookback > 0 && lag > c.cfg.LinkLookback {
				continue
			}

			overlap := overlapCoefficient(ev.Tags, cl.Tags)
			if overlap == 0 {
				continue
			}
			decay := math.Exp2(-lag.Minutes() / c.cfg.LinkHalfLife.Minutes())
			strength := (overlap + decay) / 2
			if strength < c.cfg.MinLinkStrength {
				continue
			}

			links = append(links, models.CausalLink{
				CauseRefID:  ev.RefID,
				ClusterID:   cl.ID,
				EffectRefID: effectID,
				Lag:         lag,
				Strength:    strength,
				Summary: fmt.Sprintf("%s preceded %s symptoms by %.0f min",
					ev.Summary, firstTag(cl.Tags), utils.DurationMinutes(ev.Timestamp, onset)),
			})
		}
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].ClusterID != links[j].ClusterID {
			return links[i].ClusterID < links[j].ClusterID
		}
		return links[i].Strength > links[j].Strength
	})

	c.logger.Debug("linking complete", "links", len(links))
	return links
}

// jaccard is intersection over union of two tag sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := intersectionSize(a, b)
	union := len(setOf(a)) + len(setOf(b)) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// overlapCoefficient is intersection over the smaller set. Change events
// carry few tags, so this rewards a change that fully matches a symptom
// category even when the cluster accumulated many tags.
func overlapCoefficient(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller := len(setOf(a))
	if n := len(setOf(b)); n < smaller {
		smaller = n
	}
	if smaller == 0 {
		return 0
	}
	return float64(intersectionSize(a, b)) / float64(smaller)
}

func intersectionSize(a, b []string) int {
	set := setOf(a)
	n := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func setOf(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func unionTags(a, b []string) []string {
	set := setOf(a)
	out := append([]string(nil), a...)
	for _, t := range b {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return "unclassified"
	}
	return tags[0]
}
