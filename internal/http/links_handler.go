package http

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"coursepulse/internal/utm"
)

// CreateLinkParams is the admin form for a tracked link. LandingPage is the
// page the link points to; the tracked URL is derived from it.
type CreateLinkParams struct {
	ShortCode     string `json:"short_code"`
	SourceLabel   string `json:"source_label"`
	MediumLabel   string `json:"medium_label"`
	CampaignLabel string `json:"campaign_label"`
	TermLabel     string `json:"term_label"`
	ContentLabel  string `json:"content_label"`
	LandingPage   string `json:"landing_page"`
	Notes         string `json:"notes"`
	Category      string `json:"category"`
}

// LinksIndexAction lists every link definition, newest first.
func LinksIndexAction(ctx *cartridge.Context) error {
	links, err := utm.ListLinks(ctx.DBManager.GetConnection())
	if err != nil {
		ctx.Logger.Error("Failed to list utm links", slog.Any("error", err))
		return jsonError(ctx.Ctx, fiber.StatusInternalServerError, "Failed to list links")
	}
	return ctx.JSON(fiber.Map{"links": links})
}

// LinkCreateAction validates and stores a link definition.
func LinkCreateAction(ctx *cartridge.Context) error {
	var params CreateLinkParams
	if err := ctx.BodyParser(&params); err != nil {
		return jsonError(ctx.Ctx, fiber.StatusBadRequest, "Invalid request")
	}

	link := &utm.LinkDefinition{
		ShortCode:     params.ShortCode,
		SourceLabel:   params.SourceLabel,
		MediumLabel:   params.MediumLabel,
		CampaignLabel: params.CampaignLabel,
		TermLabel:     params.TermLabel,
		ContentLabel:  params.ContentLabel,
		FullURL:       params.LandingPage,
		Notes:         params.Notes,
		Category:      params.Category,
	}

	err := utm.CreateLink(ctx.DBManager.GetConnection(), ctx.Logger, link)
	var validationErr *utm.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, utm.ErrDuplicateShortCode), errors.Is(err, utm.ErrAmbiguousShortCode):
		return jsonError(ctx.Ctx, fiber.StatusConflict, err.Error())
	case err != nil:
		ctx.Logger.Error("Failed to create utm link", slog.Any("error", err))
		return jsonError(ctx.Ctx, fiber.StatusInternalServerError, "Failed to create link")
	}

	return ctx.Status(fiber.StatusCreated).JSON(link)
}

// LinkDeleteAction removes a link definition. Sessions already attributed to it
// fall back to showing the raw code.
func LinkDeleteAction(ctx *cartridge.Context) error {
	id, err := strconv.ParseUint(ctx.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return jsonError(ctx.Ctx, fiber.StatusBadRequest, "Invalid link id")
	}

	err = utm.DeleteLink(ctx.DBManager.GetConnection(), ctx.Logger, uint(id))
	switch {
	case errors.Is(err, utm.ErrLinkNotFound):
		return jsonError(ctx.Ctx, fiber.StatusNotFound, "Link not found")
	case err != nil:
		ctx.Logger.Error("Failed to delete utm link", slog.Uint64("id", id), slog.Any("error", err))
		return jsonError(ctx.Ctx, fiber.StatusInternalServerError, "Failed to delete link")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// LinkCollisionsAction reports stored codes that become ambiguous once their
// dimension marker is stripped.
func LinkCollisionsAction(ctx *cartridge.Context) error {
	links, err := utm.ListLinks(ctx.DBManager.GetConnection())
	if err != nil {
		ctx.Logger.Error("Failed to list utm links", slog.Any("error", err))
		return jsonError(ctx.Ctx, fiber.StatusInternalServerError, "Failed to list links")
	}
	collisions := utm.FindCollisions(links)
	if collisions == nil {
		collisions = []utm.Collision{}
	}
	return ctx.JSON(fiber.Map{"collisions": collisions})
}
