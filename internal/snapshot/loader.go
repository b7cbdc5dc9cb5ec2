package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// Canonical dataset file names inside a snapshot directory.
const (
	LogsFile        = "application_logs.json"
	MetricsFile     = "infrastructure_metrics.json"
	DeploymentsFile = "deployment_history.json"
)

// Load reads the three incident datasets from dir. Malformed individual
// records are skipped and counted, not fatal; a missing dataset file yields
// an empty collection for that domain.
func Load(dir string) (*Snapshot, error) {
	if dir == "" {
		return nil, utils.NewAppError("snapshot.Load", "snapshot directory not set", nil)
	}

	snap := &Snapshot{}

	logs, skipped, err := loadLogs(filepath.Join(dir, LogsFile))
	if err != nil {
		return nil, err
	}
	snap.Logs = logs
	snap.SkippedRecords += skipped

	metrics, err := loadMetrics(filepath.Join(dir, MetricsFile))
	if err != nil {
		return nil, err
	}
	snap.Metrics = metrics

	deploys, skipped, err := loadDeployments(filepath.Join(dir, DeploymentsFile))
	if err != nil {
		return nil, err
	}
	snap.Deployments = deploys
	snap.SkippedRecords += skipped

	return snap, nil
}

func loadLogs(path string) ([]LogRecord, int, error) {
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, 0, err
	}

	var wrapper struct {
		Entries []json.RawMessage `json:"log_entries"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, 0, utils.NewAppError("snapshot.loadLogs", "parse "+LogsFile, err)
	}

	records := make([]LogRecord, 0, len(wrapper.Entries))
	skipped := 0
	for _, raw := range wrapper.Entries {
		var rec LogRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" || rec.Timestamp.IsZero() {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func loadMetrics(path string) (MetricsSnapshot, error) {
	data, err := readOptional(path)
	if err != nil || data == nil {
		return MetricsSnapshot{}, err
	}

	var snap MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return MetricsSnapshot{}, utils.NewAppError("snapshot.loadMetrics", "parse "+MetricsFile, err)
	}
	return snap, nil
}

func loadDeployments(path string) ([]DeploymentRecord, int, error) {
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, 0, err
	}

	var wrapper struct {
		Deployments []json.RawMessage `json:"deployments"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, 0, utils.NewAppError("snapshot.loadDeployments", "parse "+DeploymentsFile, err)
	}

	records := make([]DeploymentRecord, 0, len(wrapper.Deployments))
	skipped := 0
	for _, raw := range wrapper.Deployments {
		var rec DeploymentRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" || rec.Timestamp.IsZero() {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
