package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

// Sink persists completed RCA reports.
type Sink interface {
	Store(ctx context.Context, rep *models.Report) error
}

// FileSink writes each report as pretty-printed JSON under a directory,
// named by investigation ID.
type FileSink struct {
	dir string
}

// NewFileSink creates the target directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, utils.NewAppError("report.sink", "report directory not configured", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.NewAppError("report.sink", "create report directory", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the sink's target directory.
func (s *FileSink) Dir() string { return s.dir }

// Store writes the report atomically: temp file then rename, so a reader
// never observes a half-written report.
func (s *FileSink) Store(ctx context.Context, rep *models.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return utils.NewAppError("report.store", "marshal report", err)
	}

	final := filepath.Join(s.dir, fmt.Sprintf("%s.json", rep.InvestigationID))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return utils.NewAppError("report.store", "write report", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return utils.NewAppError("report.store", "finalize report", err)
	}
	return nil
}

// NoopSink discards reports. Used when persistence is disabled.
type NoopSink struct{}

func (NoopSink) Store(ctx context.Context, rep *models.Report) error { return nil }
