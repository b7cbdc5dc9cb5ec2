package engine

import (
	"log/slog"
	"time"
)

// StageObserver receives a callback as each pipeline stage finishes. The
// service layer uses it to feed metrics without coupling the engine to a
// metrics backend.
type StageObserver interface {
	StageCompleted(stage string, duration time.Duration, items int)
}

// LogObserver reports stage completion through structured logging.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) StageCompleted(stage string, duration time.Duration, items int) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("stage completed",
		"stage", stage,
		"duration", duration,
		"items", items,
	)
}

type noopObserver struct{}

func (noopObserver) StageCompleted(string, time.Duration, int) {}
