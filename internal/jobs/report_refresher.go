package jobs

import (
	"context"
	"log/slog"

	"coursepulse/internal/report"
	"coursepulse/internal/timeframe"
)

// ReportRefreshJob recomputes the dashboard's default report and publishes it
// to the shared view backing the snapshot endpoint.
type ReportRefreshJob struct {
	engine *report.Engine
	view   *report.View
	window timeframe.Window
	logger *slog.Logger
}

func NewReportRefreshJob(engine *report.Engine, view *report.View, window timeframe.Window, logger *slog.Logger) *ReportRefreshJob {
	return &ReportRefreshJob{
		engine: engine,
		view:   view,
		window: window,
		logger: logger,
	}
}

func (j *ReportRefreshJob) Run(ctx context.Context) error {
	seq := j.view.Begin()
	r := j.engine.ComputeReport(ctx, j.window)

	if !j.view.Apply(seq, r) {
		j.logger.Debug("Discarded superseded report", slog.Uint64("seq", seq))
		return nil
	}

	j.logger.Debug("Report snapshot refreshed",
		slog.Uint64("seq", seq),
		slog.Int("window", int(j.window)),
		slog.Int("sessions", r.TotalSessions))
	return nil
}
