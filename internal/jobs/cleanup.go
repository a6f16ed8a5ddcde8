package jobs

import (
	"context"
	"log/slog"
	"time"

	"coursepulse/internal/metrics"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
)

const retentionBatchSize = 1000

// RetentionJob removes page views and click events older than the retention
// period. Session records and link definitions are kept.
type RetentionJob struct {
	store         *tracking.Store
	logger        *slog.Logger
	metrics       *metrics.Collector
	retentionDays int
	timeProvider  timeframe.TimeProvider
}

func NewRetentionJob(store *tracking.Store, logger *slog.Logger, m *metrics.Collector, retentionDays int) *RetentionJob {
	return &RetentionJob{
		store:         store,
		logger:        logger,
		metrics:       m,
		retentionDays: retentionDays,
		timeProvider:  &timeframe.DefaultTimeProvider{},
	}
}

// WithTimeProvider replaces the clock used to compute the cutoff.
func (j *RetentionJob) WithTimeProvider(p timeframe.TimeProvider) *RetentionJob {
	j.timeProvider = p
	return j
}

// Run deletes expired events in batches. A non-positive retention disables it.
func (j *RetentionJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		j.logger.Debug("Event retention disabled")
		return nil
	}

	cutoff := j.timeProvider.Now(time.UTC).AddDate(0, 0, -j.retentionDays)
	j.logger.Info("Starting cleanup of old events",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := j.store.DeleteEventsBefore(ctx, cutoff, retentionBatchSize)
	j.metrics.RetentionDeleted(deleted)
	if err != nil {
		j.logger.Error("Failed to delete old events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old events to clean up")
		return nil
	}

	j.logger.Info("Cleaned up old events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
