package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursepulse/internal"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("coursepulse: %v", err)
	}
}

// run serves until SIGINT, SIGTERM or SIGHUP, then drains the server and the
// job scheduler before releasing the GeoIP reader.
func run() error {
	app, err := internal.NewApp()
	if err != nil {
		return err
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return err
	}
	if err := app.StartAsync(); err != nil {
		return err
	}
	app.Logger.Info("Collector listening", "jobs", app.Scheduler.Jobs())

	signals, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	<-signals.Done()
	app.Logger.Info("Stopping collector")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	return errors.Join(app.Shutdown(ctx), app.Services.Geo.Close())
}
