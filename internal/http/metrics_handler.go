package http

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"

	"coursepulse/internal/metrics"
)

// MetricsAction exposes the collector in the Prometheus text format.
func MetricsAction(m *metrics.Collector) func(*cartridge.Context) error {
	handler := adaptor.HTTPHandler(m.Handler())
	return func(ctx *cartridge.Context) error {
		return handler(ctx.Ctx)
	}
}
