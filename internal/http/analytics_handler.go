package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"coursepulse/internal/report"
	"coursepulse/internal/timeframe"
)

// AnalyticsResponse is a report plus the sequence number the caller should use
// to discard responses that arrive after a newer one.
type AnalyticsResponse struct {
	report.Report
	Seq uint64 `json:"seq"`
}

// AnalyticsHandler serves reports to the admin dashboard.
type AnalyticsHandler struct {
	engine        *report.Engine
	view          *report.View
	defaultWindow timeframe.Window
}

func NewAnalyticsHandler(engine *report.Engine, view *report.View, defaultWindow timeframe.Window) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine:        engine,
		view:          view,
		defaultWindow: defaultWindow,
	}
}

// AnalyticsAction computes the report for ?days=N (1, 7, 30 or 90). A client
// supplied ?seq=S is echoed back unchanged so the dashboard can drop responses
// to requests it has since superseded; without one seq is 0.
func (h *AnalyticsHandler) AnalyticsAction(ctx *cartridge.Context) error {
	window := h.defaultWindow
	if raw := ctx.Query("days"); raw != "" {
		parsed, err := timeframe.ParseWindow(raw)
		if err != nil {
			return jsonError(ctx.Ctx, fiber.StatusBadRequest, "days must be one of 1, 7, 30 or 90")
		}
		window = parsed
	}

	var seq uint64
	if raw := ctx.Query("seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return jsonError(ctx.Ctx, fiber.StatusBadRequest, "seq must be a non-negative integer")
		}
		seq = parsed
	}

	r := h.engine.ComputeReport(ctx.UserContext(), window)
	return ctx.JSON(AnalyticsResponse{Report: r, Seq: seq})
}

// SnapshotAction returns the report last applied by the refresher. Before the
// first refresh it computes one on demand and applies it.
func (h *AnalyticsHandler) SnapshotAction(ctx *cartridge.Context) error {
	if r, seq, ok := h.view.Current(); ok {
		return ctx.JSON(AnalyticsResponse{Report: r, Seq: seq})
	}

	seq := h.view.Begin()
	r := h.engine.ComputeReport(ctx.UserContext(), h.defaultWindow)
	h.view.Apply(seq, r)

	// A refresh may have landed while we computed; serve whatever is current.
	if current, currentSeq, ok := h.view.Current(); ok {
		return ctx.JSON(AnalyticsResponse{Report: current, Seq: currentSeq})
	}
	return ctx.JSON(AnalyticsResponse{Report: r, Seq: seq})
}
