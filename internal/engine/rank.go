package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/models"
)

// Ranker turns symptom clusters and causal links into an ordered list of
// root causes plus the contributing factors that did not make the cut.
type Ranker struct {
	cfg    config.EngineConfig
	logger *slog.Logger
}

// NewRanker builds a ranker.
func NewRanker(cfg config.EngineConfig, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{cfg: cfg, logger: logger}
}

type scoredCluster struct {
	cluster    models.SymptomCluster
	bestLink   *models.CausalLink
	confidence float64
	score      float64
}

// Rank scores every cluster and selects the top-K as root causes. The score
// combines aggregate confidence with cluster impact; ties break on earliest
// onset, then cluster ID, so identical inputs rank identically.
func (r *Ranker) Rank(clusters []models.SymptomCluster, links []models.CausalLink) ([]models.RootCause, []models.ContributingFactor) {
	if len(clusters) == 0 {
		return nil, nil
	}

	scored := make([]scoredCluster, 0, len(clusters))
	for _, cl := range clusters {
		best := bestLinkFor(cl.ID, links)
		conf := r.aggregateConfidence(cl, best)
		scored = append(scored, scoredCluster{
			cluster:    cl,
			bestLink:   best,
			confidence: conf,
			score:      conf * cl.ImpactWeight(),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		at, bt := a.cluster.EarliestTimestamp(), b.cluster.EarliestTimestamp()
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.cluster.ID < b.cluster.ID
	})

	k := r.cfg.TopK
	if k > len(scored) {
		k = len(scored)
	}

	causes := make([]models.RootCause, 0, k)
	for i := 0; i < k; i++ {
		causes = append(causes, r.buildRootCause(i+1, scored[i]))
	}

	var factors []models.ContributingFactor
	for _, sc := range scored[k:] {
		factors = append(factors, r.buildFactor(sc, causes))
	}

	// Record factor attachments back onto the causes.
	for fi := range factors {
		for ci := range causes {
			if causes[ci].ID == factors[fi].AttachedTo {
				causes[ci].ContributingFactorIDs = append(
					causes[ci].ContributingFactorIDs, factors[fi].ClusterID)
			}
		}
	}

	r.logger.Debug("ranking complete",
		"root_causes", len(causes),
		"contributing_factors", len(factors),
	)
	return causes, factors
}

// aggregateConfidence folds the cluster's strongest finding, its best causal
// link, and cross-domain corroboration into one value. Monotone in each
// input: stronger links and more sources never lower the result.
func (r *Ranker) aggregateConfidence(cl models.SymptomCluster, best *models.CausalLink) float64 {
	strength := 0.0
	if best != nil {
		strength = best.Strength
	}
	conf := cl.MaxConfidence() * (0.55 + 0.3*strength)
	if n := cl.SourceCount(); n > 1 {
		conf += r.cfg.CorroborationBonus * float64(n-1)
	}
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func (r *Ranker) buildRootCause(rank int, sc scoredCluster) models.RootCause {
	primary := primaryFinding(sc.cluster)

	desc := primary.Description
	causeRef := ""
	if sc.bestLink != nil {
		causeRef = sc.bestLink.CauseRefID
		desc = fmt.Sprintf("%s. Likely triggered by change %s (%s before onset)",
			strings.TrimSuffix(primary.Description, "."), sc.bestLink.CauseRefID, sc.bestLink.Lag)
	}

	return models.RootCause{
		ID:                   fmt.Sprintf("cause-%02d", rank),
		Rank:                 rank,
		Title:                primary.Title,
		Description:          desc,
		Confidence:           sc.confidence,
		CauseRefID:           causeRef,
		ClusterID:            sc.cluster.ID,
		Tags:                 append([]string(nil), sc.cluster.Tags...),
		SupportingFindingIDs: sc.cluster.FindingIDs(),
	}
}

// buildFactor attaches the below-threshold cluster to the nearest root cause
// by tag similarity, or by a shared causal link. A cluster with neither stays
// unattached.
func (r *Ranker) buildFactor(sc scoredCluster, causes []models.RootCause) models.ContributingFactor {
	attached := ""
	bestSim := 0.0
	for _, cause := range causes {
		sim := jaccard(sc.cluster.Tags, cause.Tags)
		if sim > bestSim {
			bestSim = sim
			attached = cause.ID
		}
	}
	if attached == "" && sc.bestLink != nil {
		for _, cause := range causes {
			if cause.CauseRefID != "" && cause.CauseRefID == sc.bestLink.CauseRefID {
				attached = cause.ID
				break
			}
		}
	}

	primary := primaryFinding(sc.cluster)
	var explanation string
	switch {
	case bestSim > 0:
		explanation = fmt.Sprintf("Shares %s symptoms with %s", firstTag(sc.cluster.Tags), attached)
	case attached != "":
		explanation = fmt.Sprintf("Traces to the same change as %s", attached)
	default:
		explanation = "Aggravated the incident independently; no causal link to a ranked cause"
	}

	return models.ContributingFactor{
		ClusterID:   sc.cluster.ID,
		Title:       primary.Title,
		Severity:    sc.cluster.MaxSeverity(),
		Tags:        append([]string(nil), sc.cluster.Tags...),
		FindingIDs:  sc.cluster.FindingIDs(),
		AttachedTo:  attached,
		Explanation: explanation,
	}
}

// primaryFinding picks the cluster's representative finding: the most severe,
// then most confident, then earliest.
func primaryFinding(cl models.SymptomCluster) models.Finding {
	best := cl.Findings[0]
	for _, f := range cl.Findings[1:] {
		bw, fw := best.Severity.ImpactWeight(), f.Severity.ImpactWeight()
		switch {
		case fw > bw:
			best = f
		case fw == bw && f.Confidence > best.Confidence:
			best = f
		}
	}
	return best
}

func bestLinkFor(clusterID string, links []models.CausalLink) *models.CausalLink {
	var best *models.CausalLink
	for i := range links {
		l := &links[i]
		if l.ClusterID != clusterID {
			continue
		}
		if best == nil || l.Strength > best.Strength {
			best = l
		}
	}
	return best
}
