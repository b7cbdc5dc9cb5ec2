package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// Miner extracts recurring failure signatures from historical RCA reports.
// Two root causes belong to the same pattern when their tag sets match.
type Miner struct {
	reportDir      string
	minOccurrences int
	logger         *slog.Logger
}

// NewMiner builds a miner over the report directory. Patterns seen fewer
// than minOccurrences times are dropped.
func NewMiner(reportDir string, minOccurrences int, logger *slog.Logger) *Miner {
	if minOccurrences < 1 {
		minOccurrences = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{reportDir: reportDir, minOccurrences: minOccurrences, logger: logger}
}

type accumulator struct {
	tags        []string
	services    map[string]struct{}
	occurrences int
	lastSeen    models.Report
}

// Mine reads every stored report and aggregates root causes by tag
// signature. Output is ordered by occurrences, then name.
func (m *Miner) Mine(ctx context.Context) ([]models.FailurePattern, error) {
	entries, err := os.ReadDir(m.reportDir)
	if err != nil {
		return nil, utils.NewAppError("patterns.mine", "read report directory", err)
	}

	acc := map[string]*accumulator{}
	totalReports := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.reportDir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable report", "file", entry.Name(), "error", err)
			continue
		}
		var rep models.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			m.logger.Warn("skipping malformed report", "file", entry.Name(), "error", err)
			continue
		}
		totalReports++

		for _, cause := range rep.RootCauses {
			key := signature(cause.Tags)
			if key == "" {
				continue
			}
			a, ok := acc[key]
			if !ok {
				tags := append([]string(nil), cause.Tags...)
				sort.Strings(tags)
				a = &accumulator{tags: tags, services: map[string]struct{}{}}
				acc[key] = a
			}
			a.occurrences++
			if rep.CreatedAt.After(a.lastSeen.CreatedAt) {
				a.lastSeen = rep
			}
			for _, svc := range rep.BlastRadius {
				a.services[svc] = struct{}{}
			}
		}
	}

	if totalReports == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(acc))
	for key := range acc {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if acc[keys[i]].occurrences != acc[keys[j]].occurrences {
			return acc[keys[i]].occurrences > acc[keys[j]].occurrences
		}
		return keys[i] < keys[j]
	})

	var out []models.FailurePattern
	for _, key := range keys {
		a := acc[key]
		if a.occurrences < m.minOccurrences {
			continue
		}
		services := make([]string, 0, len(a.services))
		for svc := range a.services {
			services = append(services, svc)
		}
		sort.Strings(services)

		out = append(out, models.FailurePattern{
			ID:   fmt.Sprintf("pattern-%02d", len(out)+1),
			Name: key,
			Description: fmt.Sprintf("%s root cause recurred in %d of %d investigations",
				key, a.occurrences, totalReports),
			Tags:        a.tags,
			Services:    services,
			Occurrences: a.occurrences,
			Prevalence:  float64(a.occurrences) / float64(totalReports),
			LastSeen:    a.lastSeen.CreatedAt,
		})
	}

	m.logger.Info("pattern mining complete",
		"reports", totalReports,
		"patterns", len(out),
	)
	return out, nil
}

func signature(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}
