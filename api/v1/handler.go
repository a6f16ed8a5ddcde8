package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"coursepulse/internal/metrics"
	"coursepulse/internal/pkg/botfilter"
	"coursepulse/internal/pkg/geoip"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
)

const (
	msgEventAdded     = "Event added successfully"
	msgBotDropped     = "Event ignored"
	errInvalidRequest = "Invalid request"

	kindSession  = "session"
	kindClose    = "session_close"
	kindPageView = "pageview"
	kindClick    = "click"
)

type OpenSessionParams struct {
	SessionID   string `json:"sessionId"`
	EntryPage   string `json:"entryPage"`
	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
}

type CloseSessionParams struct {
	SessionID string `json:"sessionId"`
	ExitPage  string `json:"exitPage"`
	PageViews *int   `json:"pageViews"`
}

type PageViewParams struct {
	SessionID        string `json:"sessionId"`
	PagePath         string `json:"pagePath"`
	UTMSource        string `json:"utmSource"`
	UTMMedium        string `json:"utmMedium"`
	UTMCampaign      string `json:"utmCampaign"`
	UTMTerm          string `json:"utmTerm"`
	UTMContent       string `json:"utmContent"`
	Referrer         string `json:"referrer"`
	ScreenResolution string `json:"screenResolution"`
}

type ClickParams struct {
	SessionID   string `json:"sessionId"`
	ElementID   string `json:"elementId"`
	ElementText string `json:"elementText"`
	ElementType string `json:"elementType"`
	PagePath    string `json:"pagePath"`
}

// TrackingHandler serves the public ingestion API used by the browser tracker.
type TrackingHandler struct {
	bots         *botfilter.Filter
	geo          *geoip.Resolver
	metrics      *metrics.Collector
	timeProvider timeframe.TimeProvider
}

// NewTrackingHandler creates the ingestion handlers. A nil bot filter accepts
// every user agent and a nil resolver leaves countries empty.
func NewTrackingHandler(bots *botfilter.Filter, geo *geoip.Resolver, m *metrics.Collector) *TrackingHandler {
	return &TrackingHandler{
		bots:         bots,
		geo:          geo,
		metrics:      m,
		timeProvider: &timeframe.DefaultTimeProvider{},
	}
}

// WithTimeProvider replaces the clock used for event timestamps.
func (h *TrackingHandler) WithTimeProvider(p timeframe.TimeProvider) *TrackingHandler {
	h.timeProvider = p
	return h
}

func (h *TrackingHandler) now() time.Time {
	return h.timeProvider.Now(time.UTC)
}

func (h *TrackingHandler) store(ctx *cartridge.Context) *tracking.Store {
	return tracking.NewStore(ctx.DBManager, ctx.Logger)
}

// dropBot reports whether the request comes from a bot and records the drop.
func (h *TrackingHandler) dropBot(ctx *cartridge.Context, kind string) bool {
	if h.bots == nil {
		return false
	}
	userAgent := requestUserAgent(ctx.Ctx)
	match, ok := h.bots.Detect(userAgent)
	if !ok {
		return false
	}
	h.metrics.BotDropped(kind)
	ctx.Logger.Debug("Dropped bot event",
		slog.String("kind", kind),
		slog.String("bot", match.Name),
		slog.String("userAgent", userAgent))
	return true
}

func accepted(ctx *cartridge.Context, message string) error {
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": message,
		"status":  http.StatusAccepted,
	})
}

// OpenSessionAction inserts the session record when a tab loads its first page.
func (h *TrackingHandler) OpenSessionAction(ctx *cartridge.Context) error {
	var params OpenSessionParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if strings.TrimSpace(params.SessionID) == "" {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, "sessionId is required"))
	}
	if h.dropBot(ctx, kindSession) {
		return accepted(ctx, msgBotDropped)
	}

	record := &tracking.SessionRecord{
		SessionID:    strings.TrimSpace(params.SessionID),
		EntryPage:    normalizePath(params.EntryPage),
		SessionStart: h.now(),
		UTMSource:    tracking.NullableString(params.UTMSource),
		UTMMedium:    tracking.NullableString(params.UTMMedium),
		UTMCampaign:  tracking.NullableString(params.UTMCampaign),
		Country:      tracking.NullableString(h.geo.CountryCode(getClientIP(ctx.Ctx))),
	}

	err := h.store(ctx).OpenSession(ctx.UserContext(), record)
	switch {
	case errors.Is(err, tracking.ErrSessionAlreadyOpen):
		ctx.Logger.Debug("Session already open", slog.String("session_id", record.SessionID))
		return accepted(ctx, "Session already open")
	case err != nil:
		return storeFailure(ctx, "Failed to open session", err)
	}

	h.metrics.EventIngested(kindSession)
	return accepted(ctx, msgEventAdded)
}

// CloseSessionAction ends a session. It is called from unload/visibility beacons,
// so it always answers 202 and only logs failures. The duration is measured from
// the stored start; bounce uses the client's page-view count when sent, the
// stored count otherwise. Every page of a tab sends a close, and the latest one
// replaces the earlier ones.
func (h *TrackingHandler) CloseSessionAction(ctx *cartridge.Context) error {
	var params CloseSessionParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse close request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}
	params.SessionID = strings.TrimSpace(params.SessionID)
	if params.SessionID == "" || h.dropBot(ctx, kindClose) {
		return ctx.SendStatus(http.StatusAccepted)
	}

	store := h.store(ctx)
	session, err := store.GetSession(ctx.UserContext(), params.SessionID)
	if err != nil {
		ctx.Logger.Debug("Close for unknown session",
			slog.String("session_id", params.SessionID),
			slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	pageViews := 0
	if params.PageViews != nil {
		pageViews = *params.PageViews
	} else if n, err := store.CountPageViews(ctx.UserContext(), params.SessionID); err == nil {
		pageViews = int(n)
	}

	end := h.now()
	duration := int(math.Max(0, math.Floor(end.Sub(session.SessionStart).Seconds())))
	err = store.CloseSession(ctx.UserContext(), tracking.SessionClose{
		SessionID: params.SessionID,
		ExitPage:  normalizePath(params.ExitPage),
		End:       end,
		Duration:  duration,
		Bounce:    pageViews <= 1,
	})
	if err != nil {
		ctx.Logger.Debug("Failed to close session",
			slog.String("session_id", params.SessionID),
			slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	h.metrics.EventIngested(kindClose)
	return ctx.SendStatus(http.StatusAccepted)
}

// PageViewAction appends a page view.
func (h *TrackingHandler) PageViewAction(ctx *cartridge.Context) error {
	var params PageViewParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if strings.TrimSpace(params.SessionID) == "" {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, "sessionId is required"))
	}
	if h.dropBot(ctx, kindPageView) {
		return accepted(ctx, msgBotDropped)
	}

	pv := &tracking.PageView{
		SessionID:        strings.TrimSpace(params.SessionID),
		PagePath:         normalizePath(params.PagePath),
		UTMSource:        tracking.NullableString(params.UTMSource),
		UTMMedium:        tracking.NullableString(params.UTMMedium),
		UTMCampaign:      tracking.NullableString(params.UTMCampaign),
		UTMTerm:          tracking.NullableString(params.UTMTerm),
		UTMContent:       tracking.NullableString(params.UTMContent),
		Referrer:         strings.TrimSpace(params.Referrer),
		UserAgent:        requestUserAgent(ctx.Ctx),
		ScreenResolution: strings.TrimSpace(params.ScreenResolution),
		CreatedAt:        h.now(),
	}
	if err := h.store(ctx).InsertPageView(ctx.UserContext(), pv); err != nil {
		return storeFailure(ctx, "Failed to record page view", err)
	}

	h.metrics.EventIngested(kindPageView)
	return accepted(ctx, msgEventAdded)
}

// ClickAction appends a click event. Admin paths are stored too; the report
// excludes them when reading.
func (h *TrackingHandler) ClickAction(ctx *cartridge.Context) error {
	var params ClickParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if strings.TrimSpace(params.SessionID) == "" {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, "sessionId is required"))
	}
	if h.dropBot(ctx, kindClick) {
		return accepted(ctx, msgBotDropped)
	}

	elementID := strings.TrimSpace(params.ElementID)
	if elementID == "" {
		elementID = "unknown"
	}
	click := &tracking.ClickEvent{
		SessionID:   strings.TrimSpace(params.SessionID),
		ElementID:   elementID,
		ElementText: strings.TrimSpace(params.ElementText),
		ElementType: strings.ToLower(strings.TrimSpace(params.ElementType)),
		PagePath:    normalizePath(params.PagePath),
		CreatedAt:   h.now(),
	}
	if err := h.store(ctx).InsertClickEvent(ctx.UserContext(), click); err != nil {
		return storeFailure(ctx, "Failed to record click", err)
	}

	h.metrics.EventIngested(kindClick)
	return accepted(ctx, msgEventAdded)
}

func storeFailure(ctx *cartridge.Context, message string, err error) error {
	ctx.Logger.Error(message, slog.Any("error", err))
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return ctx.Status(599).JSON(fiber.Map{}) // custom status code
	}
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": message,
		"code":  "COLLECTION_ERROR",
	})
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
