package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var errNoConnection = errors.New("database connection unavailable")

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
