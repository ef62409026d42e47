package stage

import (
	"context"
	"log/slog"
)

// Handler processes one work item for a stage. Per-item failures are
// reported through the Outcome; a non-nil error is reserved for conditions
// that must stop the whole run, such as an authentication failure.
type Handler interface {
	Stage() ID
	Process(ctx context.Context, id string) (Outcome, error)
}

// LoggerAware is implemented by handlers that accept a per-item logger.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// HealthChecker is implemented by handlers that can verify their external
// dependencies before a run.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}
