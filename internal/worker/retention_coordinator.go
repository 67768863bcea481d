// Package worker runs periodic maintenance outside the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetentionStore defines the cleanup operations the retention worker needs.
// Implemented by store.SQLiteStore.
type RetentionStore interface {
	// PurgeResolvedConflicts deletes conflicts resolved before the cutoff.
	PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error)

	// CleanExpiredIdempotency deletes push replay entries past their TTL.
	CleanExpiredIdempotency(ctx context.Context) (int64, error)
}

// RetentionResult reports what one cleanup pass removed.
type RetentionResult struct {
	ConflictsPurged    int64
	IdempotencyCleaned int64
}

// RetentionCoordinator periodically purges resolved conflicts and expired
// push replay entries.
type RetentionCoordinator struct {
	store     RetentionStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewRetentionCoordinator creates a retention coordinator. Resolved
// conflicts older than retention are purged every interval.
func NewRetentionCoordinator(s RetentionStore, interval, retention time.Duration) *RetentionCoordinator {
	return &RetentionCoordinator{
		store:     s,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first pass runs after one interval, not at startup.
func (c *RetentionCoordinator) Run(ctx context.Context) {
	if c.interval <= 0 {
		slog.Error("retention coordinator not started",
			"component", "worker",
			"worker", "retention-coordinator",
			"interval", c.interval.String(),
			"reason", "non_positive_interval",
		)
		return
	}

	slog.Info("retention coordinator started",
		"component", "worker",
		"worker", "retention-coordinator",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention coordinator stopped",
				"component", "worker",
				"worker", "retention-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("retention cycle failed",
					"component", "worker",
					"worker", "retention-coordinator",
					"error", err,
				)
			}
		}
	}
}

// RunOnce performs a single cleanup pass. Both steps run even when the
// first fails; their errors are joined.
func (c *RetentionCoordinator) RunOnce(ctx context.Context) (RetentionResult, error) {
	start := time.Now()
	cutoff := c.now().Add(-c.retention)

	var res RetentionResult
	var errs []error

	purged, err := c.store.PurgeResolvedConflicts(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge resolved conflicts: %w", err))
	} else {
		res.ConflictsPurged = purged
	}

	cleaned, err := c.store.CleanExpiredIdempotency(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("clean idempotency: %w", err))
	} else {
		res.IdempotencyCleaned = cleaned
	}

	if res.ConflictsPurged > 0 || res.IdempotencyCleaned > 0 {
		slog.Info("retention cycle completed",
			"component", "worker",
			"worker", "retention-coordinator",
			"conflicts_purged", res.ConflictsPurged,
			"idempotency_cleaned", res.IdempotencyCleaned,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("nothing to clean",
			"component", "worker",
			"worker", "retention-coordinator",
		)
	}

	return res, errors.Join(errs...)
}
