package internal

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "coursepulse/api/v1"
	"coursepulse/internal/config"
	"coursepulse/internal/http"
	"coursepulse/internal/http/middleware"
	"coursepulse/internal/metrics"
	"coursepulse/internal/pkg/botfilter"
	"coursepulse/internal/pkg/geoip"
	"coursepulse/internal/report"
	"coursepulse/internal/timeframe"
)

// trackingFetchSites are the Sec-Fetch-Site values accepted on ingestion.
// Course pages usually live on another origin.
var trackingFetchSites = []string{"cross-site", "same-site", "same-origin"}

// ServerConfig returns cartridge defaults with the global Sec-Fetch-Site check
// off. Ingestion routes attach their own check and the admin API relies on
// its bearer token.
func ServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	return cfg
}

// publicCORSConfig is shared by every endpoint the browser tracker calls from
// course pages on other origins.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// Services are the long-lived components the routes and background jobs share.
type Services struct {
	Metrics *metrics.Collector
	Bots    *botfilter.Filter
	Geo     *geoip.Resolver
	Engine  *report.Engine
	View    *report.View
}

// NewServices builds the shared components from cfg. Bot filtering is left nil
// when disabled, and the GeoIP resolver stays inert without a database file.
func NewServices(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger, m *metrics.Collector) *Services {
	var bots *botfilter.Filter
	if cfg.BotFilterEnabled {
		f, err := botfilter.Default()
		if err != nil {
			logger.Error("Failed to load bot list", slog.Any("error", err))
		} else {
			bots = f
		}
	}

	engine := report.NewEngine(
		report.NewStoreSource(dbManager, logger),
		logger,
		report.WithLocation(cfg.GetReportLocation()),
		report.WithAdminPrefix(cfg.AdminPathPrefix),
		report.WithMetrics(m),
	)

	return &Services{
		Metrics: m,
		Bots:    bots,
		Geo:     geoip.Open(cfg.GeoDBPath, logger),
		Engine:  engine,
		View:    report.NewView(m),
	}
}

// MountAppRoutes mounts every route with freshly built services. Used by tests
// and anywhere the background jobs do not need to share them.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	MountRoutes(srv, NewServices(cfg, srv.GetDBManager(), srv.GetLogger(), metrics.New()))
}

// MountRoutes mounts the public tracking API, the SDK, the admin API and the
// operational endpoints.
func MountRoutes(srv *cartridge.Server, services *Services) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP covers a visitor browsing quickly and clicking around.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Browsers always send Sec-Fetch-Site; scripted clients do not.
	trackingFetchCheck := cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
		AllowedValues: trackingFetchSites,
	})

	// CORS runs first so 403s from the fetch check still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter, trackingFetchCheck},
		CORSConfig:       publicCORSConfig,
	}

	sdkConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// The admin API is called by scripts and the dashboard with a bearer token.
	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.AdminTokenAuth(cfg.AdminTokenHash, logger),
		},
	}

	opsConfig := &cartridge.RouteConfig{}

	// === OPERATIONS ===
	srv.Get("/_health", http.HealthIndexAction, opsConfig)
	srv.Head("/_health", http.HealthIndexAction, opsConfig)
	srv.Get("/metrics", http.MetricsAction(services.Metrics), opsConfig)

	// === PUBLIC TRACKING API ===
	tracking := v1.NewTrackingHandler(services.Bots, services.Geo, services.Metrics)
	noContent := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	srv.Post("/x/api/v1/sessions", tracking.OpenSessionAction, publicAPIConfig)
	srv.Options("/x/api/v1/sessions", noContent, publicAPIConfig)
	srv.Post("/x/api/v1/sessions/close", tracking.CloseSessionAction, publicAPIConfig)
	srv.Options("/x/api/v1/sessions/close", noContent, publicAPIConfig)
	srv.Post("/x/api/v1/pageviews", tracking.PageViewAction, publicAPIConfig)
	srv.Options("/x/api/v1/pageviews", noContent, publicAPIConfig)
	srv.Post("/x/api/v1/clicks", tracking.ClickAction, publicAPIConfig)
	srv.Options("/x/api/v1/clicks", noContent, publicAPIConfig)

	// === SDK ===
	srv.Get("/y/api/v1/sdk.js", v1.GetSDKAction, sdkConfig)

	// === ADMIN API ===
	window := timeframe.Window(cfg.DefaultReportWindow)
	analytics := http.NewAnalyticsHandler(services.Engine, services.View, window)
	admin := cfg.AdminPathPrefix + "/api"

	srv.Get(admin+"/analytics", analytics.AnalyticsAction, adminAPIConfig)
	srv.Get(admin+"/analytics/snapshot", analytics.SnapshotAction, adminAPIConfig)

	srv.Get(admin+"/utm-links", http.LinksIndexAction, adminAPIConfig)
	srv.Post(admin+"/utm-links", http.LinkCreateAction, adminAPIConfig)
	srv.Get(admin+"/utm-links/collisions", http.LinkCollisionsAction, adminAPIConfig)
	srv.Delete(admin+"/utm-links/:id", http.LinkDeleteAction, adminAPIConfig)
}
