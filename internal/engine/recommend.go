package engine

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// RemediationRule maps symptom tags to recommended actions. Rules are loaded
// from a YAML pack so operators can extend the playbook without a rebuild.
type RemediationRule struct {
	Name      string             `yaml:"name"`
	MatchTags []string           `yaml:"match_tags"`
	Actions   []RemediationEntry `yaml:"actions"`
}

// RemediationEntry is one concrete action within a rule.
type RemediationEntry struct {
	Category string `yaml:"category"`
	Action   string `yaml:"action"`
	Command  string `yaml:"command,omitempty"`
	Risk     string `yaml:"risk,omitempty"`
}

type rulePack struct {
	Rules []RemediationRule `yaml:"rules"`
}

// Recommender produces remediation guidance for ranked root causes.
type Recommender struct {
	rules  []RemediationRule
	logger *slog.Logger
}

// NewRecommender loads the rule pack at path. A missing or unreadable pack
// falls back to the built-in playbook with a warning rather than failing the
// investigation.
func NewRecommender(path string, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := LoadRules(path)
	if err != nil {
		logger.Warn("remediation rule pack unavailable, using built-in playbook",
			"path", path, "error", err)
		rules = builtinRules()
	}
	return &Recommender{rules: rules, logger: logger}
}

// NewRecommenderWithRules builds a recommender from an explicit rule set.
func NewRecommenderWithRules(rules []RemediationRule, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules) == 0 {
		rules = builtinRules()
	}
	return &Recommender{rules: rules, logger: logger}
}

// LoadRules parses a YAML remediation rule pack.
func LoadRules(path string) ([]RemediationRule, error) {
	if path == "" {
		return nil, utils.NewAppError("rules.load", "no rule pack path configured", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewAppError("rules.load", "read rule pack", err)
	}
	var pack rulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, utils.NewAppError("rules.load", "parse rule pack", err)
	}
	if len(pack.Rules) == 0 {
		return nil, utils.NewAppError("rules.load", "rule pack contains no rules", nil)
	}
	return pack.Rules, nil
}

// Recommend returns actions for every root cause, ordered by cause rank and
// category urgency. Every cause receives at least one IMMEDIATE action; the
// generic triage step fills in when no rule matched.
func (r *Recommender) Recommend(causes []models.RootCause) []models.Remediation {
	var out []models.Remediation
	for _, cause := range causes {
		entries := r.matchCause(cause)
		hasImmediate := false
		for _, e := range entries {
			if models.RemediationCategory(e.Category) == models.RemediationImmediate {
				hasImmediate = true
			}
			out = append(out, models.Remediation{
				Category:        models.RemediationCategory(e.Category),
				Action:          e.Action,
				Command:         e.Command,
				Risk:            e.Risk,
				TargetRootCause: cause.ID,
			})
		}
		if !hasImmediate {
			out = append(out, models.Remediation{
				Category: models.RemediationImmediate,
				Action: fmt.Sprintf(
					"Page the owning team and investigate %q directly; no playbook entry matched",
					cause.Title),
				Risk:            "low",
				TargetRootCause: cause.ID,
			})
		}
	}
	return out
}

func (r *Recommender) matchCause(cause models.RootCause) []RemediationEntry {
	tags := make(map[string]struct{}, len(cause.Tags))
	for _, t := range cause.Tags {
		tags[t] = struct{}{}
	}

	var entries []RemediationEntry
	for _, rule := range r.rules {
		for _, mt := range rule.MatchTags {
			if _, ok := tags[mt]; ok {
				entries = append(entries, rule.Actions...)
				break
			}
		}
	}
	return entries
}

// builtinRules is the compiled-in playbook covering the failure classes the
// detectors know about.
func builtinRules() []RemediationRule {
	return []RemediationRule{
		{
			Name:      "memory-leak",
			MatchTags: []string{"memory", "jvm"},
			Actions: []RemediationEntry{
				{
					Category: "IMMEDIATE",
					Action:   "Roll back the offending release to the previous version",
					Command:  "kubectl rollout undo deployment/<service>",
					Risk:     "low",
				},
				{
					Category: "SHORT_TERM",
					Action:   "Raise the container memory limit to absorb the leak until the fix lands",
					Command:  "kubectl set resources deployment/<service> --limits=memory=5Gi",
					Risk:     "medium",
				},
				{
					Category: "PREVENTIVE",
					Action:   "Replace unbounded in-memory caches with a bounded, evicting implementation",
					Risk:     "low",
				},
			},
		},
		{
			Name:      "database-capacity",
			MatchTags: []string{"database", "capacity"},
			Actions: []RemediationEntry{
				{
					Category: "IMMEDIATE",
					Action:   "Recycle the connection pool and restart the saturated instances",
					Command:  "kubectl rollout restart deployment/<service>",
					Risk:     "medium",
				},
				{
					Category: "SHORT_TERM",
					Action:   "Add the missing index without locking the table",
					Command:  "CREATE INDEX CONCURRENTLY <index> ON <table> (<columns>)",
					Risk:     "low",
				},
				{
					Category: "PREVENTIVE",
					Action:   "Alert on pool occupancy above 80% sustained for five minutes",
					Risk:     "low",
				},
			},
		},
		{
			Name:      "tls-expiry",
			MatchTags: []string{"tls"},
			Actions: []RemediationEntry{
				{
					Category: "IMMEDIATE",
					Action:   "Rotate the expired certificate and restart consumers",
					Command:  "kubectl rollout restart deployment/<service>",
					Risk:     "low",
				},
				{
					Category: "PREVENTIVE",
					Action:   "Automate certificate renewal and alert 30 days before expiry",
					Risk:     "low",
				},
			},
		},
		{
			Name:      "cascade-config",
			MatchTags: []string{"cascade", "config"},
			Actions: []RemediationEntry{
				{
					Category: "IMMEDIATE",
					Action:   "Revert the circuit-breaker threshold to its previous value",
					Risk:     "low",
				},
				{
					Category: "SHORT_TERM",
					Action:   "Load-test failure thresholds before changing them in production",
					Risk:     "low",
				},
			},
		},
		{
			Name:      "traffic-surge",
			MatchTags: []string{"traffic"},
			Actions: []RemediationEntry{
				{
					Category: "IMMEDIATE",
					Action:   "Scale out the affected service and enable request shedding",
					Command:  "kubectl scale deployment/<service> --replicas=<n>",
					Risk:     "medium",
				},
				{
					Category: "PREVENTIVE",
					Action:   "Pre-scale ahead of announced traffic events",
					Risk:     "low",
				},
			},
		},
	}
}
