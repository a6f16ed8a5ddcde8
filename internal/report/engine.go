package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"coursepulse/internal/metrics"
	"coursepulse/internal/pkg/async"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

// DefaultAdminPrefix is excluded from click aggregation unless overridden.
const DefaultAdminPrefix = "/admin"

const (
	taskLinks     = "links"
	taskSessions  = "sessions"
	taskClicks    = "clicks"
	taskPageViews = "page_views"
)

// Source is the read side of the event store the engine consumes.
type Source interface {
	Links(ctx context.Context) ([]utm.LinkDefinition, error)
	Sessions(ctx context.Context, from time.Time) ([]tracking.SessionRecord, error)
	Clicks(ctx context.Context, from time.Time, excludePrefix string) ([]tracking.ClickEvent, error)
	PageViews(ctx context.Context, from time.Time) ([]tracking.PageView, error)
}

type storeSource struct {
	store     *tracking.Store
	dbManager cartridge.DBManager
}

// NewStoreSource reads from the application database.
func NewStoreSource(dbManager cartridge.DBManager, logger *slog.Logger) Source {
	return &storeSource{
		store:     tracking.NewStore(dbManager, logger),
		dbManager: dbManager,
	}
}

func (s *storeSource) Links(ctx context.Context) ([]utm.LinkDefinition, error) {
	return utm.ListLinks(s.dbManager.GetConnection().WithContext(ctx))
}

func (s *storeSource) Sessions(ctx context.Context, from time.Time) ([]tracking.SessionRecord, error) {
	return s.store.SessionsSince(ctx, from)
}

func (s *storeSource) Clicks(ctx context.Context, from time.Time, excludePrefix string) ([]tracking.ClickEvent, error) {
	return s.store.ClicksSince(ctx, from, excludePrefix)
}

func (s *storeSource) PageViews(ctx context.Context, from time.Time) ([]tracking.PageView, error) {
	return s.store.PageViewsSince(ctx, from)
}

// Engine computes reports. It holds no state between calls.
type Engine struct {
	source       Source
	logger       *slog.Logger
	timeProvider timeframe.TimeProvider
	location     *time.Location
	adminPrefix  string
	pool         *async.Pool
	metrics      *metrics.Collector
}

type Option func(*Engine)

// WithTimeProvider pins "now", mostly for tests.
func WithTimeProvider(p timeframe.TimeProvider) Option {
	return func(e *Engine) { e.timeProvider = p }
}

// WithLocation sets the timezone buckets are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithAdminPrefix sets the path prefix whose clicks are left out of the report.
func WithAdminPrefix(prefix string) Option {
	return func(e *Engine) { e.adminPrefix = prefix }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(source Source, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:       source,
		logger:       logger,
		timeProvider: &timeframe.DefaultTimeProvider{},
		location:     time.Local,
		adminPrefix:  DefaultAdminPrefix,
		pool:         async.NewPool(4),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeReport builds the report for window. It never fails: an invalid window or
// any read error is logged and the zero report is returned instead.
func (e *Engine) ComputeReport(ctx context.Context, window timeframe.Window) Report {
	started := time.Now()
	now := e.timeProvider.Now(e.location)

	tf, err := timeframe.NewWindowTimeFrame(window, now, e.location)
	if err != nil {
		e.logger.Error("Invalid report window", slog.Int("window", int(window)), slog.Any("error", err))
		e.metrics.ReportComputed(int(window), metrics.OutcomeFailOpen, time.Since(started))
		return Zero(int(window), now)
	}

	b, err := e.fetch(ctx, tf)
	if err != nil {
		e.logger.Error("Failed to load analytics data, serving empty report",
			slog.Int("window", int(window)),
			slog.Time("from", tf.From),
			slog.Any("error", err))
		e.metrics.ReportComputed(int(window), metrics.OutcomeFailOpen, time.Since(started))
		return Zero(int(window), now)
	}

	r := aggregate(tf, b)
	e.metrics.ReportComputed(int(window), metrics.OutcomeOK, time.Since(started))
	e.logger.Debug("Analytics report computed",
		slog.Int("window", int(window)),
		slog.Int("sessions", r.TotalSessions),
		slog.Int("clicks", r.TotalClicks),
		slog.Duration("elapsed", time.Since(started)))
	return r
}

func (e *Engine) fetch(ctx context.Context, tf *timeframe.TimeFrame) (batch, error) {
	from := tf.From
	tasks := []async.Task{
		{Name: taskLinks, Execute: func() (interface{}, error) {
			return e.source.Links(ctx)
		}},
		{Name: taskSessions, Execute: func() (interface{}, error) {
			return e.source.Sessions(ctx, from)
		}},
		{Name: taskClicks, Execute: func() (interface{}, error) {
			return e.source.Clicks(ctx, from, e.adminPrefix)
		}},
		{Name: taskPageViews, Execute: func() (interface{}, error) {
			return e.source.PageViews(ctx, from)
		}},
	}
	results := e.pool.Execute(ctx, tasks)

	var b batch
	var err error
	if b.links, err = async.Value[[]utm.LinkDefinition](results, taskLinks); err != nil {
		return batch{}, err
	}
	if b.sessions, err = async.Value[[]tracking.SessionRecord](results, taskSessions); err != nil {
		return batch{}, err
	}
	if b.clicks, err = async.Value[[]tracking.ClickEvent](results, taskClicks); err != nil {
		return batch{}, err
	}
	// Page views only feed the referrer list, so losing them keeps the report.
	if b.pageViews, err = async.Value[[]tracking.PageView](results, taskPageViews); err != nil {
		e.logger.Warn("Failed to load page views, skipping referrers", slog.Any("error", err))
		b.pageViews = nil
	}
	return b, nil
}
