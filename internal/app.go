// Package internal wires the coursepulse server together.
package internal

import (
	"fmt"
	"time"

	"github.com/karloscodes/cartridge"

	"coursepulse/internal/config"
	"coursepulse/internal/database"
	"coursepulse/internal/jobs"
	"coursepulse/internal/metrics"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
)

const (
	retentionInterval = 24 * time.Hour
	geoLiteInterval   = 24 * time.Hour
)

// Application wraps cartridge.Application with the components coursepulse
// shares between routes and background jobs.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Services  *Services
	Scheduler *jobs.Scheduler
}

// NewApp creates the application from the global configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig builds the logger, database, shared services and job
// scheduler, then hands them to cartridge.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services := NewServices(cfg, dbManager, logger, metrics.New())

	scheduler := jobs.NewScheduler(logger, services.Metrics)
	scheduler.Register("retention", retentionInterval,
		jobs.NewRetentionJob(tracking.NewStore(dbManager, logger), logger, services.Metrics, cfg.EventRetentionDays))
	scheduler.Register("report_refresh", time.Duration(cfg.JobIntervalSeconds)*time.Second,
		jobs.NewReportRefreshJob(services.Engine, services.View, timeframe.Window(cfg.DefaultReportWindow), logger))
	scheduler.Register("geolite_updater", geoLiteInterval,
		jobs.NewGeoLiteUpdaterJob(services.Geo, logger, cfg.GeoDBPath, cfg.GeoLiteLicenseKey))

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: ServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, services)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
		Scheduler:   scheduler,
	}, nil
}
