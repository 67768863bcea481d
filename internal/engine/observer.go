package engine

import (
	"context"
	"log/slog"
	"time"

	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Observer receives engine events after a batch commits (or fails).
// Implementations must be safe for concurrent use.
type Observer interface {
	OperationProcessed(ctx context.Context, ownerID string, op tasksync.Operation, out tasksync.Outcome)
	BatchProcessed(ctx context.Context, ownerID string, stats BatchStats)
}

// BatchStats summarizes one batch.
type BatchStats struct {
	Operations int
	Applied    int
	Conflicts  int
	Errors     int
	Duration   time.Duration
	// Err is set when the batch did not commit.
	Err error
}

// Observers fans events out to each observer in order.
type Observers []Observer

func (obs Observers) OperationProcessed(ctx context.Context, ownerID string, op tasksync.Operation, out tasksync.Outcome) {
	for _, o := range obs {
		o.OperationProcessed(ctx, ownerID, op, out)
	}
}

func (obs Observers) BatchProcessed(ctx context.Context, ownerID string, stats BatchStats) {
	for _, o := range obs {
		o.BatchProcessed(ctx, ownerID, stats)
	}
}

// LogObserver writes engine events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an observer logging to logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OperationProcessed(ctx context.Context, ownerID string, op tasksync.Operation, out tasksync.Outcome) {
	level := slog.LevelDebug
	if !out.Applied() {
		level = slog.LevelInfo
	}
	o.logger.Log(ctx, level, "operation processed",
		"component", "engine",
		"action", "process_operation",
		"owner_id", ownerID,
		"entity_kind", op.EntityKind,
		"operation", op.Operation,
		"outcome", out.Type,
		"reason", out.Reason,
		"id", out.ID,
		"entity_id", out.EntityID,
	)
}

func (o *LogObserver) BatchProcessed(ctx context.Context, ownerID string, stats BatchStats) {
	if stats.Err != nil {
		o.logger.ErrorContext(ctx, "batch failed",
			"component", "engine",
			"action", "process_batch_failed",
			"owner_id", ownerID,
			"operations", stats.Operations,
			"duration_ms", stats.Duration.Milliseconds(),
			"error", stats.Err,
		)
		return
	}
	o.logger.InfoContext(ctx, "batch processed",
		"component", "engine",
		"action", "process_batch",
		"owner_id", ownerID,
		"operations", stats.Operations,
		"applied", stats.Applied,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
		"duration_ms", stats.Duration.Milliseconds(),
	)
}
